// ABOUTME: Charm KV client wrapper used as a cloud-synced chat state backend
// ABOUTME: Snapshots are stored under a paperchat: key prefix with SSH key auth
package charm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
)

// StatePrefix namespaces every key this client writes
const StatePrefix = "paperchat:"

// Config holds charm client configuration
type Config struct {
	Host     string
	DBName   string
	AutoSync bool
}

// DefaultConfig returns default configuration for charm client
func DefaultConfig() *Config {
	host := os.Getenv("CHARM_HOST")
	if host == "" {
		host = "charm.2389.dev"
	}
	return &Config{
		Host:     host,
		DBName:   "paperchat",
		AutoSync: true,
	}
}

// store is the part of *kv.KV the client uses
type store interface {
	Keys() ([][]byte, error)
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Sync() error
	Close() error
}

var _ store = (*kv.KV)(nil)

// Client wraps charm KV for state snapshots
type Client struct {
	kv     store
	config *Config
	mu     sync.Mutex
}

// NewClient creates a new charm client with the given config
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	// kv reads the host from the environment
	if err := os.Setenv("CHARM_HOST", cfg.Host); err != nil {
		return nil, fmt.Errorf("failed to set CHARM_HOST: %w", err)
	}

	db, err := kv.OpenWithDefaults(cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	return newClient(db, cfg), nil
}

func newClient(db store, cfg *Config) *Client {
	// Pull remote data on startup
	if cfg.AutoSync {
		_ = db.Sync()
	}
	return &Client{kv: db, config: cfg}
}

// Close closes the KV database
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv != nil {
		err := c.kv.Close()
		c.kv = nil
		return err
	}
	return nil
}

func (c *Client) syncIfEnabled() {
	if c.config.AutoSync {
		_ = c.kv.Sync()
	}
}

// Host returns the configured charm host
func (c *Client) Host() string {
	return c.config.Host
}

// ID returns the charm user ID
func (c *Client) ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.ID()
}

// AuthorizedKeys returns the list of linked devices/keys
func (c *Client) AuthorizedKeys() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.AuthorizedKeys()
}

// Load returns the snapshot stored under key, or nil when it does not exist
func (c *Client) Load(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	full := []byte(StateKey(key))
	keys, err := c.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	if !containsKey(keys, full) {
		return nil, nil
	}
	return c.kv.Get(full)
}

// Save stores value under key and syncs when enabled
func (c *Client) Save(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Set([]byte(StateKey(key)), value); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	c.syncIfEnabled()
	return nil
}

// Delete removes key
func (c *Client) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Delete([]byte(StateKey(key))); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	c.syncIfEnabled()
	return nil
}

// Reset deletes every paperchat key, leaving other data in the database alone
func (c *Client) Reset(ctx context.Context) error {
	keys, err := c.ListKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := c.Delete(ctx, strings.TrimPrefix(key, StatePrefix)); err != nil {
			return err
		}
	}
	return nil
}

// ListKeys returns all paperchat keys with their prefix
func (c *Client) ListKeys() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var result []string
	for _, key := range keys {
		if keyStr := string(key); strings.HasPrefix(keyStr, StatePrefix) {
			result = append(result, keyStr)
		}
	}
	return result, nil
}

// Sync manually triggers a sync with the cloud
func (c *Client) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Sync()
}

// StateKey generates the namespaced key for a store snapshot
func StateKey(key string) string {
	return StatePrefix + key
}

func containsKey(keys [][]byte, want []byte) bool {
	for _, k := range keys {
		if bytes.Equal(k, want) {
			return true
		}
	}
	return false
}
