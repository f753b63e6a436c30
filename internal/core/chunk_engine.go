// ABOUTME: ChunkEngine splits extracted paper text into fixed-size word windows
// ABOUTME: Chunks never overlap and keep document order; retrieval depends on adjacency
package core

import "strings"

// DefaultWindowSize is the number of words per chunk
const DefaultWindowSize = 256

// ChunkEngine handles word-window chunking
type ChunkEngine struct {
	windowSize int
}

// NewChunkEngine creates a ChunkEngine; a non-positive window falls back to DefaultWindowSize
func NewChunkEngine(windowSize int) *ChunkEngine {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &ChunkEngine{windowSize: windowSize}
}

// WindowSize returns the configured words per chunk
func (ce *ChunkEngine) WindowSize() int {
	return ce.windowSize
}

// Chunk splits text into consecutive windows of WindowSize words
func (ce *ChunkEngine) Chunk(text string) []string {
	return ChunkWords(text, ce.windowSize)
}

// ChunkWords splits text on whitespace and groups the words into chunks of exactly
// windowSize words, the last one possibly shorter. Empty text yields nil.
func ChunkWords(text string, windowSize int) []string {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+windowSize-1)/windowSize)
	for start := 0; start < len(words); start += windowSize {
		end := min(start+windowSize, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

// JoinPages concatenates per-page text in page order
func JoinPages(pages []string) string {
	return strings.Join(pages, "\n")
}
