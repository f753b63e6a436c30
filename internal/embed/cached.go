// ABOUTME: LRU cache in front of an Encoder for repeated query text
// ABOUTME: Vectors are copied on the way in and out so callers cannot corrupt the cache
package embed

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEncoder memoizes Encode results by exact text
type CachedEncoder struct {
	inner Encoder
	mu    sync.Mutex
	cache *lru.Cache[string, []float32]
}

// WithCache wraps inner with an LRU cache of size entries
func WithCache(inner Encoder, size int) (*CachedEncoder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("encoder %q: cache size must be greater than zero", inner.Model())
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("encoder %q: init cache: %w", inner.Model(), err)
	}
	return &CachedEncoder{inner: inner, cache: cache}, nil
}

// Model returns the wrapped encoder's model
func (c *CachedEncoder) Model() string {
	return c.inner.Model()
}

// Encode returns a cached vector or computes and stores a new one
func (c *CachedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if v, ok := c.cache.Get(text); ok {
		c.mu.Unlock()
		return clone(v), nil
	}
	c.mu.Unlock()

	v, err := c.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(text, clone(v))
	c.mu.Unlock()
	return v, nil
}

// Close closes the wrapped encoder when it supports it
func (c *CachedEncoder) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
