// ABOUTME: Open assembles a Service from configuration: storage, extractor, encoder and LLM gateway
// ABOUTME: Persisted chat state is loaded (or reset when configured) before the service is returned
package chat

import (
	"context"

	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/embed"
	"github.com/harper/paperchat/internal/lang"
	"github.com/harper/paperchat/internal/llm"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/pdf"
	"github.com/harper/paperchat/internal/storage"
)

// Open builds the production Service for cfg. Callers must Close it.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}

	store := storage.Open(cfg, log)
	encoder, err := embed.FromConfig(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	gateway := llm.New(cfg, log)

	svc, err := NewService(Options{
		Model:            cfg.Model,
		ChunkWords:       cfg.ChunkWords,
		MaxConversations: cfg.MaxConversations,
		Extractor:        pdf.New(cfg, log),
		Encoder:          encoder,
		Translator:       lang.NewTranslator(gateway, log),
		LLM:              gateway,
		Cache:            store.Cache,
		State:            store.State,
		Log:              log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, embed.CloseShared, store.Close)

	if err := svc.Load(ctx, cfg.ResetCache); err != nil {
		_ = svc.Close()
		return nil, err
	}
	if cfg.ResetCache {
		if err := cfg.ClearReset(); err != nil {
			log.Warn("failed to clear reset_cache", "error", err)
		}
	}
	log.Debug("chat service ready", "model", cfg.Model, "state", store.Backend, "encoder", cfg.Encoder)
	return svc, nil
}
