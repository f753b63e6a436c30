// ABOUTME: Retriever finds the chunk closest to a question and widens it with neighbours
// ABOUTME: Cosine similarity over the document's embedding set, single best match
package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/harper/paperchat/internal/models"
)

// Encoder turns text into an embedding vector
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Retriever selects context for a question from one document
type Retriever struct {
	encoder Encoder
}

// NewRetriever creates a Retriever that embeds queries with encoder
func NewRetriever(encoder Encoder) *Retriever {
	return &Retriever{encoder: encoder}
}

// Retrieve returns the best matching chunk of set plus radius chunks on each side,
// joined by single spaces in document order.
func (r *Retriever) Retrieve(ctx context.Context, query string, set *models.EmbeddingSet, radius int) (string, error) {
	if set.Len() == 0 {
		return "", fmt.Errorf("%w: no chunks to retrieve from", models.ErrInput)
	}

	queryVector, err := r.encoder.Encode(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	best, _ := BestMatch(queryVector, set.Chunks)
	return ExpandContext(set.Texts(), best, radius), nil
}

// BestMatch returns the index and score of the chunk most similar to query.
// Undefined similarities score -1 so they never beat a valid match; ties keep the lowest index.
func BestMatch(query []float32, chunks []models.Chunk) (int, float64) {
	bestIndex, bestScore := 0, math.Inf(-1)
	for i, c := range chunks {
		score := CosineSimilarity(query, c.Embedding)
		if math.IsNaN(score) {
			score = -1
		}
		if score > bestScore {
			bestIndex, bestScore = i, score
		}
	}
	return bestIndex, bestScore
}

// ExpandContext joins texts[k-radius .. k+radius], clipped to bounds
func ExpandContext(texts []string, k, radius int) string {
	if len(texts) == 0 {
		return ""
	}
	if radius < 0 {
		radius = 0
	}
	start := max(0, k-radius)
	end := min(len(texts), k+radius+1)
	return strings.Join(texts[start:end], " ")
}

// CosineSimilarity calculates cosine similarity between two vectors.
// Returns NaN when it is undefined: empty or mismatched vectors, or a zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.NaN()
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return math.NaN()
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ContextRadius is the number of neighbouring chunks taken on each side of the best
// match. Small-context models get a narrower window.
func ContextRadius(model string) int {
	if model == "gpt-3.5-turbo" {
		return 2
	}
	return 3
}
