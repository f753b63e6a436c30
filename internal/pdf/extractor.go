// ABOUTME: PDF text extraction entry point: load bytes, pick a backend, return per-page text
// ABOUTME: The remote parser is used only when enabled and an API key is present
package pdf

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// ProgressFunc receives completion percentages in [0,100], never decreasing
type ProgressFunc func(percent float64)

// Backend turns PDF bytes into page texts
type Backend interface {
	Name() string
	Pages(ctx context.Context, doc Document, progress ProgressFunc) ([]string, error)
}

// Document is a loaded PDF
type Document struct {
	Name string
	Data []byte
}

// Extractor loads a source and runs the selected backend
type Extractor struct {
	http    *resty.Client
	backend Backend
	log     logger.Logger
}

// New builds an Extractor for cfg
func New(cfg *config.Config, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	client := resty.New().SetTimeout(2 * time.Minute)

	var backend Backend = NewLocal()
	if cfg.UseRemote() {
		backend = NewRemote(RemoteConfig{
			BaseURL:      cfg.RemoteParserURL,
			APIKey:       cfg.RemoteParserKey,
			PollInterval: cfg.PollInterval,
			MaxWait:      cfg.PollMaxWait,
			MaxAttempts:  cfg.PollMaxAttempts,
		}, log)
	}

	return &Extractor{http: client, backend: backend, log: log.With("component", "pdf", "backend", backend.Name())}
}

// NewWithBackend builds an Extractor around an explicit backend
func NewWithBackend(backend Backend, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{http: resty.New().SetTimeout(2 * time.Minute), backend: backend, log: log}
}

// Backend returns the active backend name
func (e *Extractor) Backend() string {
	return e.backend.Name()
}

// Extract returns the text of every page of source in page order
func (e *Extractor) Extract(ctx context.Context, source string, progress ProgressFunc) ([]string, error) {
	doc, err := e.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	e.log.Debug("extracting", "source", source, "bytes", len(doc.Data))

	pages, err := e.backend.Pages(ctx, doc, monotonic(progress))
	if err != nil {
		return nil, err
	}
	e.log.Info("extracted", "source", source, "pages", len(pages))
	return pages, nil
}

// Load reads a local file or downloads an http(s) URL
func (e *Extractor) Load(ctx context.Context, source string) (Document, error) {
	if strings.TrimSpace(source) == "" {
		return Document{}, fmt.Errorf("%w: empty document source", models.ErrInput)
	}

	if models.IsRemoteSource(source) {
		resp, err := e.http.R().SetContext(ctx).Get(source)
		if err != nil {
			return Document{}, fmt.Errorf("%w: download %s: %v", models.ErrExternalService, source, err)
		}
		if resp.IsError() {
			return Document{}, fmt.Errorf("%w: download %s: status %d", models.ErrExternalService, source, resp.StatusCode())
		}
		if len(resp.Body()) == 0 {
			return Document{}, fmt.Errorf("%w: %s returned an empty body", models.ErrInput, source)
		}
		return Document{Name: remoteName(source), Data: resp.Body()}, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return Document{}, fmt.Errorf("%w: read %s: %v", models.ErrInput, source, err)
	}
	if len(data) == 0 {
		return Document{}, fmt.Errorf("%w: %s is empty", models.ErrInput, source)
	}
	return Document{Name: filepath.Base(source), Data: data}, nil
}

func remoteName(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return "document.pdf"
	}
	if name := path.Base(u.Path); name != "." && name != "/" {
		return name
	}
	return "document.pdf"
}

// monotonic clamps reports to [0,100] and drops any that would go backwards
func monotonic(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return func(float64) {}
	}
	last := -1.0
	return func(p float64) {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if p < last {
			return
		}
		last = p
		progress(p)
	}
}
