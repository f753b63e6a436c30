// ABOUTME: Token counting for prompt budgets using tiktoken-go
// ABOUTME: Falls back from the model encoding to cl100k_base, then to a word count
package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Tokenizer counts tokens in text
type Tokenizer interface {
	Count(text string) int
}

type tiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(text string) int {
	return len(t.tke.Encode(text, nil, nil))
}

// WordCounter counts whitespace-separated words
type WordCounter struct{}

// Count returns the number of words
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

var (
	tokenizerMu    sync.Mutex
	tokenizerCache = map[string]Tokenizer{}
)

// TokenizerFor returns a cached tokenizer for model
func TokenizerFor(model string) Tokenizer {
	tokenizerMu.Lock()
	defer tokenizerMu.Unlock()

	if t, ok := tokenizerCache[model]; ok {
		return t
	}

	var t Tokenizer
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding(defaultEncoding)
	}
	if err != nil {
		t = WordCounter{}
	} else {
		t = tiktokenCounter{tke: tke}
	}
	tokenizerCache[model] = t
	return t
}
