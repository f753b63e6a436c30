// ABOUTME: MessageStore keeps every chat message keyed by id, plus the two-phase answer placeholder
// ABOUTME: Snapshots are {"entity": {...}} JSON; placeholder (fake) messages never survive a restore
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harper/paperchat/internal/models"
)

// Fixed system texts shown in a conversation
const (
	Greeting        = "Hello, you can ask me anything about this paper. I will try my best to anwser you. Please make sure you have set the API key in the preference."
	ThinkingMessage = "I am thinking..."
	FailureMessage  = "Something wrong!"
)

// ErrAnswerResolved is returned when a placeholder is resolved a second time
var ErrAnswerResolved = errors.New("answer already resolved")

// PendingAnswer is the handle for an answer placeholder returned by BeginAnswer
type PendingAnswer struct {
	ConversationID string
	MessageID      string

	resolved bool
}

type messageState struct {
	Entity map[string]models.Message `json:"entity"`
}

// MessageStore owns the messages of every conversation
type MessageStore struct {
	mu     sync.Mutex
	entity map[string]models.Message
	now    func() time.Time
	last   time.Time
}

// NewMessageStore creates an empty store
func NewMessageStore() *MessageStore {
	return &MessageStore{entity: make(map[string]models.Message), now: time.Now}
}

// SetClock replaces the time source
func (s *MessageStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// stamp returns a timestamp strictly after the previous one so send order is kept
func (s *MessageStore) stamp() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// Send appends a new message and returns it
func (s *MessageStore) Send(conversationID, content string, sender models.Sender, fake bool) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
		Timestamp:      s.stamp(),
		Fake:           fake,
	}
	s.entity[msg.ID] = msg
	return msg
}

// Update replaces the message with the same id, or adds it
func (s *MessageStore) Update(msg models.Message) {
	s.mu.Lock()
	s.entity[msg.ID] = msg
	s.mu.Unlock()
}

// Delete removes one message
func (s *MessageStore) Delete(id string) {
	s.mu.Lock()
	delete(s.entity, id)
	s.mu.Unlock()
}

// Get returns a message by id
func (s *MessageStore) Get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.entity[id]
	return msg, ok
}

// ConversationMessages returns the greeting followed by the conversation's messages
// in timestamp order
func (s *MessageStore) ConversationMessages(conversationID string) []models.Message {
	s.mu.Lock()
	out := make([]models.Message, 0, len(s.entity)+1)
	for _, msg := range s.entity {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	greeting := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Content:        Greeting,
		Sender:         models.SenderSystem,
	}
	return append([]models.Message{greeting}, out...)
}

// DeleteConversation removes every message of a conversation and returns how many
func (s *MessageStore) DeleteConversation(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, msg := range s.entity {
		if msg.ConversationID == conversationID {
			delete(s.entity, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored messages
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entity)
}

// Reset drops every message
func (s *MessageStore) Reset() {
	s.mu.Lock()
	s.entity = make(map[string]models.Message)
	s.mu.Unlock()
}

// BeginAnswer appends the "I am thinking..." placeholder for a conversation
func (s *MessageStore) BeginAnswer(conversationID string) *PendingAnswer {
	msg := s.Send(conversationID, ThinkingMessage, models.SenderSystem, true)
	return &PendingAnswer{ConversationID: conversationID, MessageID: msg.ID}
}

// ResolveAnswer replaces the placeholder with text, or with FailureMessage when text
// is empty. A pending answer resolves once.
func (s *MessageStore) ResolveAnswer(p *PendingAnswer, text string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.resolved {
		return models.Message{}, ErrAnswerResolved
	}
	msg, ok := s.entity[p.MessageID]
	if !ok {
		return models.Message{}, fmt.Errorf("%w: placeholder %s no longer exists", models.ErrInput, p.MessageID)
	}
	p.resolved = true

	if text == "" {
		text = FailureMessage
	}
	msg.Content = text
	msg.Fake = false
	s.entity[msg.ID] = msg
	return msg, nil
}

// Snapshot serializes every message, placeholders included
func (s *MessageStore) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(messageState{Entity: s.entity})
}

// Restore replaces the store contents with a snapshot, dropping fake messages
func (s *MessageStore) Restore(data []byte) error {
	var state messageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: message state: %v", models.ErrParse, err)
	}

	entity := make(map[string]models.Message, len(state.Entity))
	var last time.Time
	for id, msg := range state.Entity {
		if msg.Fake {
			continue
		}
		entity[id] = msg
		if msg.Timestamp.After(last) {
			last = msg.Timestamp
		}
	}

	s.mu.Lock()
	s.entity = entity
	if last.After(s.last) {
		s.last = last
	}
	s.mu.Unlock()
	return nil
}
