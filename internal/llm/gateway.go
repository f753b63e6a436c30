// ABOUTME: LLM gateway: resolves the configured model to a provider and sends one chat completion
// ABOUTME: Query swallows failures into an empty answer after notifying the user; Complete returns them
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// DefaultTimeout bounds a single provider request
const DefaultTimeout = 5 * time.Minute

// Gateway dispatches prompts to the configured provider
type Gateway struct {
	cfg       *config.Config
	registry  *Registry
	http      *resty.Client
	tokenizer func(model string) Tokenizer
	log       logger.Logger
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithRegistry replaces the model registry
func WithRegistry(r *Registry) Option {
	return func(g *Gateway) { g.registry = r }
}

// WithTokenizer replaces the tokenizer lookup
func WithTokenizer(fn func(model string) Tokenizer) Option {
	return func(g *Gateway) { g.tokenizer = fn }
}

// New creates a Gateway reading model, keys and custom URL from cfg on every call
func New(cfg *config.Config, log logger.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.LLMTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Gateway{
		cfg:       cfg,
		registry:  DefaultRegistry(),
		http:      resty.New().SetTimeout(timeout),
		tokenizer: TokenizerFor,
		log:       log.With("component", "llm"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the model registry
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// ProviderConfig resolves the active model into a call configuration
func (g *Gateway) ProviderConfig() (Provider, ProviderConfig, error) {
	p, info, err := g.registry.Resolve(g.cfg.Model, g.cfg.CustomAPIURL)
	if err != nil {
		return nil, ProviderConfig{}, err
	}
	return p, ProviderConfig{
		Provider:         info.Provider,
		Model:            g.cfg.Model,
		APIKey:           g.cfg.APIKey(info.Provider),
		BaseURL:          g.cfg.CustomAPIURL,
		MaxContextTokens: info.MaxTokens,
	}, nil
}

// Complete sends one system+user exchange and returns the reply text
func (g *Gateway) Complete(ctx context.Context, system, user string) (string, error) {
	p, pc, err := g.ProviderConfig()
	if err != nil {
		return "", err
	}

	if pc.MaxContextTokens > 0 {
		user = Truncate(user, pc.MaxContextTokens, g.tokenizer(pc.Model))
	} else {
		user = Minimize(user)
	}

	body, err := p.BuildRequest(pc, system, user)
	if err != nil {
		return "", err
	}

	g.log.Debug("sending completion", "provider", pc.Provider, "model", pc.Model)
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(p.Headers(pc)).
		SetBody(body).
		Post(p.Endpoint(pc))
	if err != nil {
		return "", fmt.Errorf("%w: %s request: %v", models.ErrExternalService, pc.Provider, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: %s returned status %d: %s", models.ErrExternalService, pc.Provider, resp.StatusCode(), resp.String())
	}

	return p.ParseResponse(resp.Body())
}

// Query answers question from the retrieved passage in answerLanguage. Every failure is
// reported to the user and yields "".
func (g *Gateway) Query(ctx context.Context, question, passage, answerLanguage string) string {
	answer, err := g.Complete(ctx, SystemInstruction(answerLanguage), UserPrompt(question, passage))
	if err != nil {
		logger.Notify(g.log, logger.ErrorLevel, "Failed to query the LLM", err)
		return ""
	}
	return answer
}

// Preflight reports a configuration that cannot reach the active provider: an
// unknown model or a missing API key. Custom endpoints may not need a key.
func (g *Gateway) Preflight() error {
	_, pc, err := g.ProviderConfig()
	if err != nil {
		return err
	}
	if pc.APIKey == "" && pc.Provider != ProviderCustom {
		return fmt.Errorf("%w: no API key set for %s (model %s)", models.ErrConfig, pc.Provider, pc.Model)
	}
	return nil
}
