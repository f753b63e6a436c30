// ABOUTME: Message and Conversation models for the paper chat history
// ABOUTME: Fake messages are placeholders that never reach persisted state
package models

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a message
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Message is one entry of a conversation
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
	Fake           bool      `json:"fake,omitempty"`
}

// NewMessage creates a message with a fresh id and the current time
func NewMessage(conversationID, content string, sender Sender) Message {
	return Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
		Timestamp:      time.Now(),
	}
}

// Conversation is the per-document chat thread; its ID is the document ID.
// Source is the document location, kept so a later question can re-ingest it.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
