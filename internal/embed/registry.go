// ABOUTME: Process-wide registry of encoder instances keyed by task and model
// ABOUTME: A task/model pair is constructed once; later callers get the same instance
package embed

import (
	"context"
	"errors"
	"sync"
)

type registryKey struct {
	task  string
	model string
}

type registryEntry struct {
	once    sync.Once
	encoder Encoder
	err     error
}

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*registryEntry{}
)

// Shared returns the encoder for task/model, calling factory only the first time.
// A failed construction is not cached so a later call can retry.
func Shared(task, model string, factory func() (Encoder, error)) (Encoder, error) {
	key := registryKey{task: task, model: model}

	registryMu.Lock()
	entry, ok := registry[key]
	if !ok {
		entry = &registryEntry{}
		registry[key] = entry
	}
	registryMu.Unlock()

	entry.once.Do(func() {
		entry.encoder, entry.err = factory()
	})

	if entry.err != nil {
		registryMu.Lock()
		if registry[key] == entry {
			delete(registry, key)
		}
		registryMu.Unlock()
		return nil, entry.err
	}
	return entry.encoder, nil
}

// CloseShared closes every registered encoder that has a Close method and empties the registry
func CloseShared() error {
	registryMu.Lock()
	entries := registry
	registry = map[registryKey]*registryEntry{}
	registryMu.Unlock()

	var errs []error
	for _, entry := range entries {
		if c, ok := entry.encoder.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

type lazyEncoder struct {
	task    string
	model   string
	factory func() (Encoder, error)
}

// Lazy returns an Encoder that resolves the shared task/model instance on its first Encode
func Lazy(task, model string, factory func() (Encoder, error)) Encoder {
	return &lazyEncoder{task: task, model: model, factory: factory}
}

func (l *lazyEncoder) Model() string {
	return l.model
}

func (l *lazyEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	enc, err := Shared(l.task, l.model, l.factory)
	if err != nil {
		return nil, err
	}
	return enc.Encode(ctx, text)
}
