// ABOUTME: Encoder interface and vector post-processing shared by all embedding backends
// ABOUTME: Mean pooling over token vectors followed by L2 normalization
package embed

import (
	"context"
	"math"
)

// TaskFeatureExtraction is the only task the encoders serve
const TaskFeatureExtraction = "feature-extraction"

// Encoder maps text to a fixed-length embedding
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model; vectors from different models are never mixed
	Model() string
}

// MeanPool averages token vectors into one vector. Rows shorter than the first are ignored.
func MeanPool(tokens [][]float32) []float32 {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return nil
	}
	dim := len(tokens[0])
	sum := make([]float64, dim)
	n := 0
	for _, tok := range tokens {
		if len(tok) != dim {
			continue
		}
		for i, v := range tok {
			sum[i] += float64(v)
		}
		n++
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}

// Normalize scales v to unit L2 norm in place and returns it. Zero vectors are left as is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}
