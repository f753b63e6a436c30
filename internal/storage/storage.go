// ABOUTME: Storage contracts for the embedding cache and chat state, plus in-memory backends
// ABOUTME: Open picks the configured backend and falls back to memory when it cannot be opened
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harper/paperchat/internal/charm"
	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
	"github.com/harper/paperchat/internal/storage/sqlite"
)

// EmbeddingCache retains embedding sets for a bounded number of documents
type EmbeddingCache interface {
	// Get returns nil, nil on a miss and refreshes the entry timestamp on a hit
	Get(ctx context.Context, id string) (*models.EmbeddingSet, error)
	// Put stores set and returns the ids evicted to stay within capacity
	Put(ctx context.Context, set *models.EmbeddingSet) ([]string, error)
	Delete(ctx context.Context, id string) error
	Entries(ctx context.Context) ([]models.CacheEntry, error)
	ResetAll(ctx context.Context) error
}

// StateStore is a small key/value store for serialized store snapshots
type StateStore interface {
	// Load returns nil, nil when key was never saved
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Reset(ctx context.Context) error
}

var (
	_ EmbeddingCache = (*sqlite.CacheStore)(nil)
	_ EmbeddingCache = (*MemoryCache)(nil)
	_ StateStore     = (*sqlite.StateStore)(nil)
	_ StateStore     = (*charm.Client)(nil)
	_ StateStore     = (*MemoryState)(nil)
)

// Storage bundles the open backends
type Storage struct {
	Cache   EmbeddingCache
	State   StateStore
	Backend string

	closers []func() error
}

// Close releases every backend resource
func (s *Storage) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// Open builds storage for cfg. The embedding cache lives in SQLite under DataDir;
// chat state goes to the configured backend. Any backend that fails to open is
// replaced by its in-memory equivalent with a warning.
func Open(cfg *config.Config, log logger.Logger) *Storage {
	if log == nil {
		log = logger.Nop()
	}
	s := &Storage{Backend: cfg.StateBackend}

	var db *sqlite.DB
	if cfg.StateBackend != config.StateMemory {
		var err error
		db, err = sqlite.Open(cfg.DBPath())
		if err != nil {
			log.Warn("embedding cache unavailable, using memory", "path", cfg.DBPath(), "error", err)
			db = nil
		} else {
			s.closers = append(s.closers, db.Close)
		}
	}

	if db != nil {
		s.Cache = sqlite.NewCacheStore(db, cfg.CacheSize)
	} else {
		s.Cache = NewMemoryCache(cfg.CacheSize)
	}

	switch cfg.StateBackend {
	case config.StateCharm:
		client, err := charm.NewClient(&charm.Config{Host: cfg.CharmHost, DBName: cfg.CharmDBName, AutoSync: true})
		if err != nil {
			log.Warn("charm state backend unavailable, using memory", "error", err)
			break
		}
		s.State = client
		s.closers = append(s.closers, client.Close)
	case config.StateSQLite:
		if db != nil {
			s.State = sqlite.NewStateStore(db)
		}
	}

	if s.State == nil {
		s.State = NewMemoryState()
		s.Backend = config.StateMemory
	}
	return s
}

type memoryEntry struct {
	set   *models.EmbeddingSet
	ts    time.Time
	order uint64
}

// MemoryCache is an EmbeddingCache held in process memory
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	capacity int
	seq      uint64
	now      func() time.Time
}

// NewMemoryCache creates a MemoryCache holding at most capacity documents
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = sqlite.DefaultCapacity
	}
	return &MemoryCache{
		entries:  make(map[string]*memoryEntry),
		capacity: capacity,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the set for id and refreshes its timestamp
func (c *MemoryCache) Get(_ context.Context, id string) (*models.EmbeddingSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	e.ts = c.now()
	c.seq++
	e.order = c.seq
	return e.set, nil
}

// Put stores set and evicts the smallest timestamps beyond capacity
func (c *MemoryCache) Put(_ context.Context, set *models.EmbeddingSet) ([]string, error) {
	if set == nil || set.DocumentID == "" {
		return nil, fmt.Errorf("%w: embedding set needs a document id", models.ErrInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[set.DocumentID] = &memoryEntry{set: set, ts: c.now(), order: c.seq}

	var evicted []string
	for len(c.entries) > c.capacity {
		oldest := ""
		for id, e := range c.entries {
			if oldest == "" || older(e, c.entries[oldest]) {
				oldest = id
			}
		}
		delete(c.entries, oldest)
		evicted = append(evicted, oldest)
	}
	return evicted, nil
}

func older(a, b *memoryEntry) bool {
	if !a.ts.Equal(b.ts) {
		return a.ts.Before(b.ts)
	}
	return a.order < b.order
}

// Delete removes id
func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// Entries lists entries, most recent first
func (c *MemoryCache) Entries(_ context.Context) ([]models.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type ranked struct {
		entry models.CacheEntry
		e     *memoryEntry
	}
	list := make([]ranked, 0, len(c.entries))
	for id, e := range c.entries {
		list = append(list, ranked{
			entry: models.CacheEntry{ID: id, Chunks: e.set.Len(), Timestamp: e.ts},
			e:     e,
		})
	}
	sort.Slice(list, func(i, j int) bool { return older(list[j].e, list[i].e) })

	out := make([]models.CacheEntry, len(list))
	for i, r := range list {
		out[i] = r.entry
	}
	return out, nil
}

// ResetAll clears the cache
func (c *MemoryCache) ResetAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
	return nil
}

// MemoryState is a StateStore held in process memory
type MemoryState struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemoryState creates an empty MemoryState
func NewMemoryState() *MemoryState {
	return &MemoryState{values: make(map[string][]byte)}
}

// Load returns a copy of the value for key
func (m *MemoryState) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Save stores a copy of value
func (m *MemoryState) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key
func (m *MemoryState) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Reset removes every key
func (m *MemoryState) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string][]byte)
	return nil
}
