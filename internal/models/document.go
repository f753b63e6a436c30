// ABOUTME: Document is the paper a conversation is about
// ABOUTME: Referenced by ID, never mutated by the pipeline
package models

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Document identifies a paper and where its PDF lives
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	MainURL string `json:"main_url"`
}

// NewDocument builds a Document for a local path or URL.
// An empty id is derived from the source so the same file always maps to the same conversation.
func NewDocument(id, title, source string) (*Document, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("document source cannot be empty")
	}
	if !IsRemoteSource(source) {
		if abs, err := filepath.Abs(source); err == nil {
			source = abs
		}
	}
	if id == "" {
		id = DocumentID(source)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	return &Document{ID: id, Title: title, MainURL: source}, nil
}

// DocumentID returns a stable name-based UUID for a source location
func DocumentID(source string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
}

// IsRemoteSource reports whether source is an http(s) URL
func IsRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
