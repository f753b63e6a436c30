// ABOUTME: Builds the configured encoder: the local worker process or an OpenAI-compatible API
// ABOUTME: The instance is shared per model, started on first use and fronted by an LRU
package embed

import (
	"fmt"

	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// FromConfig returns the encoder selected by cfg.Encoder. Nothing is started until
// the first Encode call.
func FromConfig(cfg *config.Config, log logger.Logger) (*CachedEncoder, error) {
	var factory func() (Encoder, error)
	switch cfg.Encoder {
	case config.EncoderWorker:
		factory = func() (Encoder, error) {
			return StartWorker(cfg.EncoderCommand, nil, cfg.EncoderModel, log)
		}
	case config.EncoderOpenAI:
		factory = func() (Encoder, error) {
			return NewAPIEncoder(APIConfig{
				APIKey:     cfg.OpenAIKey,
				BaseURL:    cfg.EmbeddingURL,
				Model:      cfg.EncoderModel,
				MaxRetries: 3,
			})
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoder %q", models.ErrConfig, cfg.Encoder)
	}
	return WithCache(Lazy(TaskFeatureExtraction, cfg.EncoderModel, factory), cfg.QueryCacheSize)
}
