// ABOUTME: Key/value state table holding chat store snapshots
// ABOUTME: Values are opaque JSON documents written whole on every save
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StateStore persists snapshots in the state table
type StateStore struct {
	db *DB
}

// NewStateStore creates a StateStore
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Load returns the value for key, or nil when it was never saved
func (s *StateStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", key, err)
	}
	return value, nil
}

// Save upserts the value for key
func (s *StateStore) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *StateStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
	return err
}

// Reset removes every saved snapshot
func (s *StateStore) Reset(ctx context.Context) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM state`)
	return err
}
