// ABOUTME: Embeddings through an OpenAI-compatible /embeddings endpoint (OpenAI, Ollama, proxies)
// ABOUTME: Retries transient failures with exponential backoff and returns unit vectors
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harper/paperchat/internal/models"
	"github.com/harper/paperchat/internal/util"
	openai "github.com/sashabaranov/go-openai"
)

// APIConfig configures the OpenAI-compatible embedding client
type APIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// APIEncoder embeds text with go-openai CreateEmbeddings
type APIEncoder struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewAPIEncoder creates an APIEncoder; BaseURL may point at any compatible server
func NewAPIEncoder(cfg APIConfig) (*APIEncoder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: embedding model is required", models.ErrConfig)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &APIEncoder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
	}, nil
}

// Model returns the embedding model id
func (e *APIEncoder) Model() string {
	return e.model
}

// Encode embeds text, retrying up to maxRetries times
func (e *APIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if err := util.Sleep(ctx, util.CalculateBackoff(e.retryDelay, attempt)); err != nil {
				return nil, err
			}
		}

		vector, err := e.encodeOnce(ctx, text)
		if err == nil {
			return vector, nil
		}
		if errors.Is(err, models.ErrParse) {
			return nil, err
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
	}

	return nil, fmt.Errorf("%w: failed to generate embedding after %d attempts: %v", models.ErrExternalService, e.maxRetries+1, lastErr)
}

func (e *APIEncoder) encodeOnce(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", models.ErrParse)
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	copy(vector, resp.Data[0].Embedding)
	return Normalize(vector), nil
}
