// ABOUTME: Runs evaluation scenarios through the chat service and collects scores
// ABOUTME: Each scenario ingests its paper once, then retrieves and answers every question
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/harper/paperchat/internal/chat"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
	"github.com/harper/paperchat/internal/pdf"
)

// Status values of a case
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// Service is the part of chat.Service an evaluation needs
type Service interface {
	Start(ctx context.Context, docs []models.Document, progress pdf.ProgressFunc) (models.Conversation, error)
	Ingest(ctx context.Context, doc models.Document, progress pdf.ProgressFunc) (*models.EmbeddingSet, error)
	Passage(ctx context.Context, conversationID, question string) (chat.Retrieval, error)
	SendLLMMessage(ctx context.Context, conversationID, question string) (models.Message, error)
}

var _ Service = (*chat.Service)(nil)

// CaseResult is the outcome of one question
type CaseResult struct {
	Question           string  `json:"question"`
	Answer             string  `json:"answer,omitempty"`
	FaithfulnessScore  float64 `json:"faithfulness"`
	FaithfulnessDetail string  `json:"faithfulness_detail,omitempty"`
	ContextRecallScore float64 `json:"context_recall"`
	RecallDetail       string  `json:"recall_detail"`
	Status             string  `json:"status"`
	ErrorMessage       string  `json:"error,omitempty"`
}

// ScenarioResult is the outcome of one scenario
type ScenarioResult struct {
	ScenarioID   string       `json:"scenario_id"`
	ScenarioName string       `json:"scenario_name"`
	Chunks       int          `json:"chunks"`
	Cases        []CaseResult `json:"cases"`
	ErrorMessage string       `json:"error,omitempty"`
}

// Passed counts the passing cases
func (r ScenarioResult) Passed() int {
	n := 0
	for _, c := range r.Cases {
		if c.Status == StatusPass {
			n++
		}
	}
	return n
}

// Runner executes scenarios against a Service
type Runner struct {
	svc           Service
	log           logger.Logger
	retrievalOnly bool
}

// Option configures a Runner
type Option func(*Runner)

// RetrievalOnly skips the LLM and scores context recall alone
func RetrievalOnly() Option {
	return func(r *Runner) { r.retrievalOnly = true }
}

// WithLogger sets the runner's logger
func WithLogger(log logger.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a runner over svc
func NewRunner(svc Service, opts ...Option) *Runner {
	r := &Runner{svc: svc, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "eval")
	return r
}

// Run executes every scenario in order. A scenario whose paper cannot be ingested is
// reported with an error and all its cases failed; the run continues.
func (r *Runner) Run(ctx context.Context, suite *Suite) []ScenarioResult {
	results := make([]ScenarioResult, 0, len(suite.Scenarios))
	for _, sc := range suite.Scenarios {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.RunScenario(ctx, sc))
	}
	return results
}

// RunScenario ingests the scenario's paper and evaluates each question
func (r *Runner) RunScenario(ctx context.Context, sc Scenario) ScenarioResult {
	result := ScenarioResult{ScenarioID: sc.ID, ScenarioName: sc.Name}
	r.log.Info("running scenario", "scenario", sc.ID, "questions", len(sc.Cases))

	conv, chunks, err := r.setup(ctx, sc)
	if err != nil {
		result.ErrorMessage = err.Error()
		for _, c := range sc.Cases {
			result.Cases = append(result.Cases, CaseResult{Question: c.Question, Status: StatusFail, ErrorMessage: err.Error()})
		}
		return result
	}
	result.Chunks = chunks

	for _, c := range sc.Cases {
		result.Cases = append(result.Cases, r.runCase(ctx, conv.ID, c))
	}
	return result
}

func (r *Runner) setup(ctx context.Context, sc Scenario) (models.Conversation, int, error) {
	doc, err := sc.Document()
	if err != nil {
		return models.Conversation{}, 0, err
	}
	conv, err := r.svc.Start(ctx, []models.Document{*doc}, nil)
	if err != nil {
		return models.Conversation{}, 0, fmt.Errorf("failed to ingest %s: %w", doc.MainURL, err)
	}
	set, err := r.svc.Ingest(ctx, *doc, nil)
	if err != nil {
		return models.Conversation{}, 0, err
	}
	return conv, set.Len(), nil
}

func (r *Runner) runCase(ctx context.Context, conversationID string, c Case) CaseResult {
	res := CaseResult{Question: c.Question, Status: StatusFail}

	retrieval, err := r.svc.Passage(ctx, conversationID, c.Question)
	if err != nil {
		res.ErrorMessage = err.Error()
		return res
	}
	res.ContextRecallScore, res.RecallDetail = ContextRecall(retrieval.Passage, c.ExpectedInContext)

	if r.retrievalOnly {
		res.FaithfulnessScore = 1.0
	} else {
		answer, err := r.svc.SendLLMMessage(ctx, conversationID, c.Question)
		if err != nil {
			res.ErrorMessage = err.Error()
			return res
		}
		res.Answer = answer.Content
		res.FaithfulnessScore, res.FaithfulnessDetail = Faithfulness(answer.Content, c.ExpectedInAnswer, c.ForbiddenInAnswer)
	}

	if res.FaithfulnessScore >= PassThreshold && res.ContextRecallScore >= PassThreshold {
		res.Status = StatusPass
	}
	r.log.Debug("case evaluated", "question", c.Question, "recall", res.ContextRecallScore, "faithfulness", res.FaithfulnessScore, "status", res.Status)
	return res
}

// Summary aggregates a run
type Summary struct {
	Timestamp  string           `json:"timestamp"`
	TotalCases int              `json:"total_cases"`
	Passed     int              `json:"passed"`
	Failed     int              `json:"failed"`
	MeanRecall float64          `json:"mean_context_recall"`
	MeanFaith  float64          `json:"mean_faithfulness"`
	Results    []ScenarioResult `json:"results"`
}

// Summarize totals the results of a run
func Summarize(results []ScenarioResult, now time.Time) Summary {
	s := Summary{Timestamp: now.Format(time.RFC3339), Results: results}
	for _, sr := range results {
		for _, c := range sr.Cases {
			s.TotalCases++
			s.MeanRecall += c.ContextRecallScore
			s.MeanFaith += c.FaithfulnessScore
		}
		s.Passed += sr.Passed()
	}
	s.Failed = s.TotalCases - s.Passed
	if s.TotalCases > 0 {
		s.MeanRecall /= float64(s.TotalCases)
		s.MeanFaith /= float64(s.TotalCases)
	}
	return s
}

// Export writes the summary as indented JSON
func Export(summary Summary, outputPath string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}
