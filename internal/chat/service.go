// ABOUTME: Service runs the paper chat pipeline: ingest, retrieve, answer, and persist chat state
// ABOUTME: Each question is answered independently from the single best passage of its document
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/harper/paperchat/internal/core"
	"github.com/harper/paperchat/internal/embed"
	"github.com/harper/paperchat/internal/lang"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
	"github.com/harper/paperchat/internal/pdf"
	"github.com/harper/paperchat/internal/storage"
)

// State keys for persisted store snapshots
const (
	MessageStateKey      = "message-state"
	ConversationStateKey = "conversation-state"
)

// Extractor turns a document source into per-page text
type Extractor interface {
	Extract(ctx context.Context, source string, progress pdf.ProgressFunc) ([]string, error)
}

// Translator translates a query into a target language, returning it unchanged on failure
type Translator interface {
	Translate(ctx context.Context, text, target string) string
}

// Answerer asks the LLM a question about a passage; "" means it failed
type Answerer interface {
	Query(ctx context.Context, question, passage, answerLanguage string) string
}

// Options wires a Service
type Options struct {
	// Model is the active LLM model; it sets the retrieval window
	Model            string
	ChunkWords       int
	MaxConversations int

	Extractor  Extractor
	Encoder    embed.Encoder
	Translator Translator
	LLM        Answerer
	Cache      storage.EmbeddingCache
	State      storage.StateStore
	Log        logger.Logger
}

// Service is the chat pipeline shared by the CLI and the MCP server
type Service struct {
	model      string
	chunker    *core.ChunkEngine
	extractor  Extractor
	encoder    embed.Encoder
	retriever  *core.Retriever
	translator Translator
	llm        Answerer
	cache      storage.EmbeddingCache
	state      storage.StateStore

	messages      *MessageStore
	conversations *ConversationStore

	ingests singleflight.Group
	saveMu  sync.Mutex
	closers []func() error
	log     logger.Logger
}

// NewService validates opts and builds a Service with empty stores
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Extractor == nil:
		return nil, fmt.Errorf("%w: chat service needs an extractor", models.ErrConfig)
	case opts.Encoder == nil:
		return nil, fmt.Errorf("%w: chat service needs an encoder", models.ErrConfig)
	case opts.LLM == nil:
		return nil, fmt.Errorf("%w: chat service needs an LLM", models.ErrConfig)
	case opts.Cache == nil || opts.State == nil:
		return nil, fmt.Errorf("%w: chat service needs storage", models.ErrConfig)
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		model:         opts.Model,
		chunker:       core.NewChunkEngine(opts.ChunkWords),
		extractor:     opts.Extractor,
		encoder:       opts.Encoder,
		retriever:     core.NewRetriever(opts.Encoder),
		translator:    opts.Translator,
		llm:           opts.LLM,
		cache:         opts.Cache,
		state:         opts.State,
		messages:      NewMessageStore(),
		conversations: NewConversationStore(opts.MaxConversations),
		log:           log.With("component", "chat"),
	}, nil
}

// Messages returns the message store
func (s *Service) Messages() *MessageStore {
	return s.messages
}

// Conversations returns the conversation store
func (s *Service) Conversations() *ConversationStore {
	return s.conversations
}

// Load restores persisted chat state. With reset, everything is cleared instead.
func (s *Service) Load(ctx context.Context, reset bool) error {
	if reset {
		s.log.Info("resetting cache on startup")
		return s.ResetAll(ctx)
	}

	if data, err := s.state.Load(ctx, MessageStateKey); err != nil {
		s.log.Warn("failed to load message state", "error", err)
	} else if data != nil {
		if err := s.messages.Restore(data); err != nil {
			s.log.Warn("discarding message state", "error", err)
		}
	}

	if data, err := s.state.Load(ctx, ConversationStateKey); err != nil {
		s.log.Warn("failed to load conversation state", "error", err)
	} else if data != nil {
		evicted, err := s.conversations.Restore(data)
		if err != nil {
			s.log.Warn("discarding conversation state", "error", err)
		}
		if len(evicted) > 0 {
			s.evict(ctx, evicted)
			s.save(ctx)
		}
	}

	s.log.Debug("chat state loaded", "messages", s.messages.Len(), "conversations", len(s.conversations.List()))
	return nil
}

// Start opens the conversation for the single selected document. The document is
// ingested first; a document that cannot be extracted or embedded leaves the
// conversation store untouched.
func (s *Service) Start(ctx context.Context, docs []models.Document, progress pdf.ProgressFunc) (models.Conversation, error) {
	if len(docs) != 1 {
		logger.Notify(s.log, logger.WarnLevel, models.ErrNoSelection, nil)
		return models.Conversation{}, fmt.Errorf("%w: %s", models.ErrInput, models.ErrNoSelection)
	}
	doc := docs[0]
	if doc.ID == "" {
		return models.Conversation{}, fmt.Errorf("%w: document has no id", models.ErrInput)
	}

	if _, err := s.Ingest(ctx, doc, progress); err != nil {
		return models.Conversation{}, err
	}

	evicted := s.conversations.Touch(doc.ID, doc.Title)
	s.conversations.SetSource(doc.ID, doc.MainURL)
	s.conversations.Select(doc.ID)
	s.evict(ctx, evicted)
	s.save(ctx)

	conv, _ := s.conversations.Get(doc.ID)
	return conv, nil
}

// Ingest returns the embedding set of doc, building and caching it on a miss.
// Concurrent calls for the same document share one build, which is detached from
// the first caller's cancellation; each caller still stops waiting when its own
// ctx is done.
func (s *Service) Ingest(ctx context.Context, doc models.Document, progress pdf.ProgressFunc) (*models.EmbeddingSet, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document has no id", models.ErrInput)
	}
	shared := context.WithoutCancel(ctx)
	ch := s.ingests.DoChan(doc.ID, func() (any, error) {
		return s.ingest(shared, doc, progress)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.EmbeddingSet), nil
	}
}

func (s *Service) ingest(ctx context.Context, doc models.Document, progress pdf.ProgressFunc) (*models.EmbeddingSet, error) {
	cached, err := s.cache.Get(ctx, doc.ID)
	if err != nil {
		s.log.Warn("embedding cache read failed", "document", doc.ID, "error", err)
	}
	if cached != nil {
		if cached.Model == s.encoder.Model() {
			s.log.Debug("embedding cache hit", "document", doc.ID, "chunks", cached.Len())
			return cached, nil
		}
		if cached.RawText != "" {
			s.log.Info("re-embedding cached text for new model", "document", doc.ID, "from", cached.Model, "to", s.encoder.Model())
			return s.build(ctx, doc.ID, cached.RawText)
		}
	}

	if doc.MainURL == "" {
		return nil, fmt.Errorf("%w: document %s has no source", models.ErrInput, doc.ID)
	}
	pages, err := s.extractor.Extract(ctx, doc.MainURL, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", doc.MainURL, err)
	}
	return s.build(ctx, doc.ID, core.JoinPages(pages))
}

// build chunks and embeds raw, then writes the set through to the cache
func (s *Service) build(ctx context.Context, id, raw string) (*models.EmbeddingSet, error) {
	texts := s.chunker.Chunk(raw)
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no text found in document %s", models.ErrInput, id)
	}

	// one chunk at a time through the shared encoder
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		vec, err := s.encoder.Encode(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		chunks[i] = models.Chunk{Text: text, Embedding: vec}
	}

	set := &models.EmbeddingSet{
		DocumentID: id,
		Chunks:     chunks,
		Lang:       lang.Detect(raw).Code,
		Model:      s.encoder.Model(),
		RawText:    raw,
	}

	evicted, err := s.cache.Put(ctx, set)
	if err != nil {
		s.log.Warn("embedding cache write failed", "document", id, "error", err)
	} else if len(evicted) > 0 {
		s.log.Debug("embedding cache evicted", "documents", evicted)
	}
	s.log.Info("document embedded", "document", id, "chunks", len(chunks), "lang", set.Lang)
	return set, nil
}

// SendLLMMessage records question, answers it from the conversation's document and
// returns the answer message. Pipeline failures resolve to FailureMessage rather
// than an error.
func (s *Service) SendLLMMessage(ctx context.Context, conversationID, question string) (models.Message, error) {
	if strings.TrimSpace(question) == "" {
		return models.Message{}, fmt.Errorf("%w: empty question", models.ErrInput)
	}
	conv, ok := s.conversations.Get(conversationID)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: unknown conversation %s", models.ErrInput, conversationID)
	}

	s.messages.Send(conversationID, question, models.SenderUser, false)
	pending := s.messages.BeginAnswer(conversationID)
	s.save(ctx)

	answer, err := s.answer(ctx, conv, question)
	if err != nil {
		logger.Notify(s.log, logger.ErrorLevel, "Failed to answer the question", err)
		answer = ""
	}

	msg, err := s.messages.ResolveAnswer(pending, answer)
	if err != nil {
		return models.Message{}, err
	}
	s.evict(ctx, s.conversations.Touch(conversationID, ""))
	s.save(ctx)
	return msg, nil
}

// Ask starts the conversation for doc, makes sure it is embedded and answers question
func (s *Service) Ask(ctx context.Context, doc models.Document, question string, progress pdf.ProgressFunc) (models.Message, error) {
	conv, err := s.Start(ctx, []models.Document{doc}, progress)
	if err != nil {
		return models.Message{}, err
	}
	return s.SendLLMMessage(ctx, conv.ID, question)
}

// Retrieval is the passage chosen for a question, before the LLM sees it
type Retrieval struct {
	// Query is the question as sent to the retriever, translated to the document language when needed
	Query string `json:"query"`
	// Passage is the best matching chunk with its neighbours
	Passage string `json:"passage"`
	// AnswerLanguage is the name of the language the question was asked in
	AnswerLanguage string `json:"answer_language"`
}

// Passage runs retrieval for question against the conversation's document without
// asking the LLM or recording any message
func (s *Service) Passage(ctx context.Context, conversationID, question string) (Retrieval, error) {
	if strings.TrimSpace(question) == "" {
		return Retrieval{}, fmt.Errorf("%w: empty question", models.ErrInput)
	}
	conv, ok := s.conversations.Get(conversationID)
	if !ok {
		return Retrieval{}, fmt.Errorf("%w: unknown conversation %s", models.ErrInput, conversationID)
	}
	return s.retrieve(ctx, conv, question)
}

func (s *Service) retrieve(ctx context.Context, conv models.Conversation, question string) (Retrieval, error) {
	set, err := s.Ingest(ctx, models.Document{ID: conv.ID, Title: conv.Title, MainURL: conv.Source}, nil)
	if err != nil {
		return Retrieval{}, err
	}

	queryLang := lang.Detect(question)
	query := question
	if set.Lang != "" && queryLang.Code != set.Lang && s.translator != nil {
		query = s.translator.Translate(ctx, question, set.Lang)
	}

	passage, err := s.retriever.Retrieve(ctx, query, set, core.ContextRadius(s.model))
	if err != nil {
		return Retrieval{}, err
	}
	return Retrieval{Query: query, Passage: passage, AnswerLanguage: queryLang.Name}, nil
}

func (s *Service) answer(ctx context.Context, conv models.Conversation, question string) (string, error) {
	r, err := s.retrieve(ctx, conv, question)
	if err != nil {
		return "", err
	}
	return s.llm.Query(ctx, r.Query, r.Passage, r.AnswerLanguage), nil
}

// History returns the greeting and the messages of a conversation
func (s *Service) History(conversationID string) []models.Message {
	return s.messages.ConversationMessages(conversationID)
}

// CacheEntries lists the retained embedding sets, newest first
func (s *Service) CacheEntries(ctx context.Context) ([]models.CacheEntry, error) {
	return s.cache.Entries(ctx)
}

// DeleteConversation drops a conversation, its messages and its cached embeddings
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, ok := s.conversations.Get(conversationID); !ok {
		return fmt.Errorf("%w: unknown conversation %s", models.ErrInput, conversationID)
	}
	s.evict(ctx, []string{conversationID})
	s.save(ctx)
	return nil
}

// ResetAll clears the embedding cache, the persisted state and both stores
func (s *Service) ResetAll(ctx context.Context) error {
	s.messages.Reset()
	s.conversations.Reset()

	var errs []error
	if err := s.cache.ResetAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset embedding cache: %w", err))
	}
	if err := s.state.Reset(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset chat state: %w", err))
	}
	return errors.Join(errs...)
}

// evict drops the messages and cached embeddings of retired conversations
func (s *Service) evict(ctx context.Context, ids []string) {
	for _, id := range ids {
		s.conversations.Delete(id)
		n := s.messages.DeleteConversation(id)
		if err := s.cache.Delete(ctx, id); err != nil {
			s.log.Warn("failed to drop cached embeddings", "document", id, "error", err)
		}
		s.log.Debug("conversation evicted", "conversation", id, "messages", n)
	}
}

// save writes both store snapshots. Failures are logged; the in-memory state stays authoritative.
func (s *Service) save(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	for _, snap := range []struct {
		key  string
		take func() ([]byte, error)
	}{
		{MessageStateKey, s.messages.Snapshot},
		{ConversationStateKey, s.conversations.Snapshot},
	} {
		data, err := snap.take()
		if err != nil {
			s.log.Warn("failed to snapshot chat state", "key", snap.key, "error", err)
			continue
		}
		if err := s.state.Save(ctx, snap.key, data); err != nil {
			s.log.Warn("failed to persist chat state", "key", snap.key, "error", err)
		}
	}
}

// Close releases the resources handed to the service by Open
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
