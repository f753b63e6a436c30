// ABOUTME: Embedding cache persistence: documents with ordered chunk vectors
// ABOUTME: Vectors are stored as little-endian float32 BLOBs; eviction drops the oldest access first
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/harper/paperchat/internal/models"
)

// DefaultCapacity is the number of documents kept before eviction
const DefaultCapacity = 5

// CacheStore implements the embedding cache on SQLite
type CacheStore struct {
	db       *DB
	capacity int
	now      func() time.Time
}

// NewCacheStore creates a CacheStore holding at most capacity documents
func NewCacheStore(db *DB, capacity int) *CacheStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &CacheStore{db: db, capacity: capacity, now: time.Now}
}

// SetClock replaces the time source used for access timestamps
func (s *CacheStore) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the cached set for id, or nil when absent. A hit refreshes the access time.
func (s *CacheStore) Get(ctx context.Context, id string) (*models.EmbeddingSet, error) {
	set := &models.EmbeddingSet{DocumentID: id}
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT lang, model, raw_text FROM documents WHERE id = ?
	`, id).Scan(&set.Lang, &set.Model, &set.RawText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT text, vector FROM chunks WHERE document_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for %s: %w", id, err)
	}
	for rows.Next() {
		var (
			chunk models.Chunk
			blob  []byte
		)
		if err := rows.Scan(&chunk.Text, &blob); err != nil {
			_ = rows.Close()
			return nil, err
		}
		chunk.Embedding = blobToVector(blob)
		set.Chunks = append(set.Chunks, chunk)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.conn.ExecContext(ctx, `
		UPDATE documents SET accessed_at = ? WHERE id = ?
	`, s.now().UnixNano(), id); err != nil {
		return nil, fmt.Errorf("failed to refresh access time for %s: %w", id, err)
	}

	return set, nil
}

// Put stores set, replacing any previous entry for the same document, and evicts
// the least recently accessed documents beyond capacity. Returns the evicted ids.
func (s *CacheStore) Put(ctx context.Context, set *models.EmbeddingSet) ([]string, error) {
	if set == nil || set.DocumentID == "" {
		return nil, fmt.Errorf("%w: embedding set needs a document id", models.ErrInput)
	}

	var evicted []string
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteDocument(ctx, tx, set.DocumentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, lang, model, raw_text, accessed_at) VALUES (?, ?, ?, ?, ?)
		`, set.DocumentID, set.Lang, set.Model, set.RawText, s.now().UnixNano()); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, position, text, vector) VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for i, chunk := range set.Chunks {
			if _, err := stmt.ExecContext(ctx, set.DocumentID, i, chunk.Text, vectorToBlob(chunk.Embedding)); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}

		evicted, err = s.evict(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (s *CacheStore) evict(ctx context.Context, tx *sql.Tx) ([]string, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return nil, err
	}
	excess := count - s.capacity
	if excess <= 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM documents ORDER BY accessed_at ASC, rowid ASC LIMIT ?
	`, excess)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := deleteDocument(ctx, tx, id); err != nil {
			return nil, fmt.Errorf("failed to evict %s: %w", id, err)
		}
	}
	return ids, nil
}

// Delete removes a document and its chunks
func (s *CacheStore) Delete(ctx context.Context, id string) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		return deleteDocument(ctx, tx, id)
	})
}

// deleteDocument removes a document and its chunks inside tx
func deleteDocument(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// Entries lists cached documents, most recently accessed first, without vectors
func (s *CacheStore) Entries(ctx context.Context) ([]models.CacheEntry, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT d.id, d.accessed_at, (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
		FROM documents d
		ORDER BY d.accessed_at DESC, d.rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []models.CacheEntry
	for rows.Next() {
		var (
			entry models.CacheEntry
			nanos int64
		)
		if err := rows.Scan(&entry.ID, &nanos, &entry.Chunks); err != nil {
			return nil, err
		}
		entry.Timestamp = time.Unix(0, nanos)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResetAll removes every cached document
func (s *CacheStore) ResetAll(ctx context.Context) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents`)
		return err
	})
}

// vectorToBlob converts a float32 slice to a little-endian blob
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// blobToVector converts a little-endian blob back to float32
func blobToVector(blob []byte) []float32 {
	count := len(blob) / 4
	vector := make([]float32, count)
	for i := 0; i < count; i++ {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
