// ABOUTME: CLI command to score retrieval and answers against a YAML suite of paper questions
// ABOUTME: Prints a per-scenario summary and optionally exports the full results as JSON
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/eval"
)

var (
	evalOutput        string
	evalRetrievalOnly bool
)

// NewEvalCmd creates the eval command
func NewEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <suite.yaml>",
		Short: "Evaluate answers against ground truth",
		Long: `Run a suite of questions about papers and score the results.

Each question is scored on context recall (did the retrieved passage
contain the expected text) and faithfulness (does the answer contain the
expected strings and none of the forbidden ones). A question passes when
both scores are at least 0.9. The command fails when any question fails.

Suite format:
  name: attention
  scenarios:
    - id: transformer
      source: papers/attention.pdf
      questions:
        - question: What replaces recurrence?
          expected_in_answer: [attention]
          forbidden_in_answer: [LSTM]
          expected_in_context: [self-attention]`,
		Args: cobra.ExactArgs(1),
		RunE: runEval,
	}

	cmd.Flags().StringVarP(&evalOutput, "output", "o", "", "Write JSON results to this file")
	cmd.Flags().BoolVar(&evalRetrievalOnly, "retrieval-only", false, "Score context recall only, without calling the LLM")

	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	suite, err := eval.LoadSuite(args[0])
	if err != nil {
		return err
	}

	return withServiceConfig(cmd, evalConfig, func(ctx context.Context, s *session) error {
		opts := []eval.Option{eval.WithLogger(s.log)}
		if evalRetrievalOnly {
			opts = append(opts, eval.RetrievalOnly())
		}
		results := eval.NewRunner(s.svc, opts...).Run(ctx, suite)
		summary := eval.Summarize(results, time.Now())

		if evalOutput != "" {
			if err := eval.Export(summary, evalOutput); err != nil {
				return err
			}
		}

		if jsonOutput() {
			if err := printJSON(cmd, summary); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s: %s (%d/%d passed)\n", r.ScenarioID, r.ScenarioName, r.Passed(), len(r.Cases))
				if r.ErrorMessage != "" {
					fmt.Fprintf(out, "  error: %s\n", r.ErrorMessage)
					continue
				}
				for _, c := range r.Cases {
					fmt.Fprintf(out, "  [%s] recall %.2f faithfulness %.2f  %s\n",
						c.Status, c.ContextRecallScore, c.FaithfulnessScore, truncate(c.Question, 60))
				}
			}
			fmt.Fprintf(out, "\nTotal: %d  Passed: %d  Failed: %d\n", summary.TotalCases, summary.Passed, summary.Failed)
			if evalOutput != "" && !quiet {
				fmt.Fprintf(out, "Results exported to: %s\n", evalOutput)
			}
		}

		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d questions failed", summary.Failed, summary.TotalCases)
		}
		return nil
	})
}

// evalConfig keeps scored conversations in throwaway memory state, away from the
// user's saved conversations and cache. A pending reset_cache is left for the next real run.
func evalConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.StateBackend = config.StateMemory
	c.ResetCache = false
	return &c
}
