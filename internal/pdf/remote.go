// ABOUTME: Remote parsing backend: uploads page batches to a LlamaParse-style job API and polls for markdown
// ABOUTME: Polling runs on a fixed interval bounded by a maximum wait and a maximum attempt count
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// Job states reported by the parsing service
const (
	JobSuccess = "SUCCESS"
	JobError   = "ERROR"
	JobPending = "PENDING"
)

// PageSeparator is requested from the service so batch markdown can be split back into pages
const PageSeparator = "\n<<<paperchat-page-break>>>\n"

var errJobPending = errors.New("parse job still running")

// RemoteConfig configures the remote backend
type RemoteConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxWait      time.Duration
	MaxAttempts  int
	// PageCount overrides local page counting (tests)
	PageCount func(data []byte) (int, error)
	// SplitPages overrides cutting a batch out of the document (tests)
	SplitPages func(data []byte, start, end int) ([]byte, error)
}

// Remote delegates parsing to an external job service
type Remote struct {
	client *resty.Client
	cfg    RemoteConfig
	log    logger.Logger
}

type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type markdownResponse struct {
	Markdown string `json:"markdown"`
}

// NewRemote creates the remote backend
func NewRemote(cfg RemoteConfig, log logger.Logger) *Remote {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 300
	}
	if cfg.PageCount == nil {
		cfg.PageCount = PageCount
	}
	if cfg.SplitPages == nil {
		cfg.SplitPages = ExtractRange
	}
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(2*time.Minute).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json")

	return &Remote{client: client, cfg: cfg, log: log.With("component", "remote-parser")}
}

// Name identifies the backend in logs
func (r *Remote) Name() string {
	return "remote"
}

// BatchSize returns how many pages go into one upload: max(2, ceil(pages/10))
func BatchSize(pages int) int {
	size := int(math.Ceil(float64(pages) / 10))
	if size < 2 {
		return 2
	}
	return size
}

// Pages parses doc batch by batch and reports progress after each batch
func (r *Remote) Pages(ctx context.Context, doc Document, progress ProgressFunc) ([]string, error) {
	total, err := r.cfg.PageCount(doc.Data)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []string{}, nil
	}

	size := BatchSize(total)
	pages := make([]string, 0, total)
	for start := 0; start < total; start += size {
		end := min(start+size, total)

		batch, err := r.parseBatch(ctx, doc, start, end)
		if err != nil {
			return nil, err
		}
		pages = append(pages, batch...)
		if progress != nil {
			progress(float64(end) / float64(total) * 100)
		}
	}
	return pages, nil
}

func (r *Remote) parseBatch(ctx context.Context, doc Document, start, end int) ([]string, error) {
	jobID, err := r.upload(ctx, doc, start, end)
	if err != nil {
		return nil, err
	}
	r.log.Debug("parse job submitted", "job", jobID, "pages", fmt.Sprintf("%d-%d", start, end-1))

	if err := r.waitForJob(ctx, jobID); err != nil {
		return nil, err
	}

	markdown, err := r.fetchMarkdown(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return splitPages(markdown, end-start), nil
}

// upload sends only pages [start, end) of doc as their own PDF
func (r *Remote) upload(ctx context.Context, doc Document, start, end int) (string, error) {
	part, err := r.cfg.SplitPages(doc.Data, start, end)
	if err != nil {
		return "", err
	}

	var result uploadResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetFileReader("file", batchName(doc.Name, start, end), bytes.NewReader(part)).
		SetMultipartFormData(map[string]string{
			"page_separator": PageSeparator,
		}).
		SetResult(&result).
		Post("upload")
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %v", models.ErrExternalService, doc.Name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: upload %s: status %d: %s", models.ErrExternalService, doc.Name, resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: upload response has no job id", models.ErrParse)
	}
	return result.ID, nil
}

// waitForJob polls until the job succeeds, fails, or the polling budget runs out
func (r *Remote) waitForJob(ctx context.Context, jobID string) error {
	backoff := retry.NewConstant(r.cfg.PollInterval)
	backoff = retry.WithMaxDuration(r.cfg.MaxWait, backoff)
	backoff = retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var job jobResponse
		resp, err := r.client.R().
			SetContext(ctx).
			SetResult(&job).
			Get("job/" + jobID)
		if err != nil {
			return fmt.Errorf("%w: poll job %s: %v", models.ErrExternalService, jobID, err)
		}
		if resp.IsError() {
			return fmt.Errorf("%w: poll job %s: status %d", models.ErrExternalService, jobID, resp.StatusCode())
		}

		switch job.Status {
		case JobSuccess:
			return nil
		case JobError:
			return fmt.Errorf("%w: parse job %s failed", models.ErrExternalService, jobID)
		default:
			return retry.RetryableError(errJobPending)
		}
	})
	if errors.Is(err, errJobPending) {
		return fmt.Errorf("%w: parse job %s did not finish within %s or %d polls",
			models.ErrExternalService, jobID, r.cfg.MaxWait, r.cfg.MaxAttempts)
	}
	return err
}

func (r *Remote) fetchMarkdown(ctx context.Context, jobID string) (string, error) {
	var result markdownResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("job/" + jobID + "/result/markdown")
	if err != nil {
		return "", fmt.Errorf("%w: fetch result %s: %v", models.ErrExternalService, jobID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: fetch result %s: status %d", models.ErrExternalService, jobID, resp.StatusCode())
	}
	return result.Markdown, nil
}

// batchName names an uploaded batch after its document and one-based page range
func batchName(name string, start, end int) string {
	base := strings.TrimSuffix(name, ".pdf")
	return fmt.Sprintf("%s-p%d-%d.pdf", base, start+1, end)
}

// splitPages cuts markdown at the page separator into exactly n pages
func splitPages(markdown string, n int) []string {
	parts := strings.Split(markdown, strings.TrimSpace(PageSeparator))
	pages := make([]string, n)
	for i := 0; i < n && i < len(parts); i++ {
		pages[i] = strings.TrimSpace(parts[i])
	}
	// anything past the expected count belongs to the last page
	if len(parts) > n && n > 0 {
		rest := make([]string, 0, len(parts)-n+1)
		rest = append(rest, pages[n-1])
		for _, p := range parts[n:] {
			if p = strings.TrimSpace(p); p != "" {
				rest = append(rest, p)
			}
		}
		pages[n-1] = strings.Join(rest, "\n")
	}
	return pages
}
