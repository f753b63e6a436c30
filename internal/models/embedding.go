// ABOUTME: Chunk, EmbeddingSet and CacheEntry models for per-document retrieval
// ABOUTME: An EmbeddingSet is the ordered chunk list of one document, built by a single model
package models

import "time"

// Chunk is a contiguous slice of document text with its embedding
type Chunk struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingSet holds the ordered chunks of one document.
// Chunk order follows the source document; context expansion relies on it.
type EmbeddingSet struct {
	DocumentID string  `json:"document_id"`
	Chunks     []Chunk `json:"chunks"`
	Lang       string  `json:"lang"`
	Model      string  `json:"model"`
	RawText    string  `json:"raw_text,omitempty"`
}

// Len returns the number of chunks
func (s *EmbeddingSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

// Texts returns chunk texts in document order
func (s *EmbeddingSet) Texts() []string {
	out := make([]string, len(s.Chunks))
	for i, c := range s.Chunks {
		out[i] = c.Text
	}
	return out
}

// CacheEntry is one retained document in the embedding cache
type CacheEntry struct {
	ID        string        `json:"id"`
	Payload   *EmbeddingSet `json:"payload,omitempty"`
	Chunks    int           `json:"chunks"`
	Timestamp time.Time     `json:"timestamp"`
}
