// ABOUTME: ConversationStore tracks one conversation per document and the current selection
// ABOUTME: Only the most recently touched conversations are retained; the rest are reported as evicted
package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harper/paperchat/internal/models"
)

// DefaultMaxConversations is the retention limit
const DefaultMaxConversations = 5

type conversationState struct {
	Entity    map[string]models.Conversation `json:"entity"`
	CurrentID string                         `json:"currentId"`
}

// ConversationStore owns conversation metadata
type ConversationStore struct {
	mu        sync.Mutex
	entity    map[string]models.Conversation
	currentID string
	max       int
	now       func() time.Time
	last      time.Time
}

// NewConversationStore creates a store retaining at most limit conversations
func NewConversationStore(limit int) *ConversationStore {
	if limit <= 0 {
		limit = DefaultMaxConversations
	}
	return &ConversationStore{entity: make(map[string]models.Conversation), max: limit, now: time.Now}
}

// SetClock replaces the time source
func (s *ConversationStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Touch creates or refreshes a conversation and returns the ids evicted to stay
// within the limit. An empty title keeps the existing one.
func (s *ConversationStore) Touch(id, title string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t

	conv := s.entity[id]
	conv.ID = id
	if title != "" {
		conv.Title = title
	}
	conv.Timestamp = t
	s.entity[id] = conv

	return s.trim()
}

// trim keeps the newest max conversations. Caller holds mu.
func (s *ConversationStore) trim() []string {
	if len(s.entity) <= s.max {
		return nil
	}
	convs := s.sorted()
	var evicted []string
	for _, c := range convs[s.max:] {
		delete(s.entity, c.ID)
		evicted = append(evicted, c.ID)
		if s.currentID == c.ID {
			s.currentID = ""
		}
	}
	return evicted
}

// sorted returns conversations newest first. Caller holds mu.
func (s *ConversationStore) sorted() []models.Conversation {
	out := make([]models.Conversation, 0, len(s.entity))
	for _, c := range s.entity {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// SetSource records where the conversation's document lives
func (s *ConversationStore) SetSource(id, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.entity[id]; ok {
		conv.Source = source
		s.entity[id] = conv
	}
}

// Select makes id the current conversation
func (s *ConversationStore) Select(id string) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

// Current returns the selected conversation id, "" when none
func (s *ConversationStore) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Get returns one conversation
func (s *ConversationStore) Get(id string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.entity[id]
	return c, ok
}

// List returns conversations, most recently touched first
func (s *ConversationStore) List() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted()
}

// Delete removes a conversation
func (s *ConversationStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entity, id)
	if s.currentID == id {
		s.currentID = ""
	}
}

// Reset drops every conversation and the selection
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	s.entity = make(map[string]models.Conversation)
	s.currentID = ""
	s.mu.Unlock()
}

// Snapshot serializes the conversations and the selection
func (s *ConversationStore) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(conversationState{Entity: s.entity, CurrentID: s.currentID})
}

// Restore replaces the store contents with a snapshot, keeping the newest max
// conversations, and returns the ids it dropped
func (s *ConversationStore) Restore(data []byte) ([]string, error) {
	var state conversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: conversation state: %v", models.ErrParse, err)
	}
	if state.Entity == nil {
		state.Entity = make(map[string]models.Conversation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = state.Entity
	s.currentID = state.CurrentID
	for _, c := range s.entity {
		if c.Timestamp.After(s.last) {
			s.last = c.Timestamp
		}
	}
	if _, ok := s.entity[s.currentID]; !ok {
		s.currentID = ""
	}
	return s.trim(), nil
}
