// ABOUTME: Tests for the chat stores and the question-answering service
// ABOUTME: The pipeline runs against in-memory storage with fake extractor, encoder, translator and LLM
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harper/paperchat/internal/core"
	"github.com/harper/paperchat/internal/lang"
	"github.com/harper/paperchat/internal/models"
	"github.com/harper/paperchat/internal/pdf"
	"github.com/harper/paperchat/internal/storage"
)

const englishPaper = `We introduce a new network architecture based solely on attention mechanisms.
Experiments on two machine translation tasks show these models to be superior in quality.
Our model achieves a new state of the art score on the English to German benchmark.
We also show that the architecture generalizes well to other tasks such as parsing.
Training costs are a small fraction of the best models from the literature.`

const germanPaper = `Wir stellen eine neue Netzwerkarchitektur vor, die ausschließlich auf Aufmerksamkeitsmechanismen beruht.
Experimente mit zwei maschinellen Übersetzungsaufgaben zeigen, dass diese Modelle qualitativ überlegen sind.
Unser Modell erreicht ein neues Spitzenergebnis bei der Übersetzung vom Englischen ins Deutsche.
Wir zeigen außerdem, dass sich die Architektur gut auf andere Aufgaben wie die Syntaxanalyse übertragen lässt.
Die Trainingskosten betragen nur einen kleinen Bruchteil der besten Modelle aus der Literatur.`

type fakeExtractor struct {
	pages map[string][]string
	err   error
	calls atomic.Int32

	// when gate is set, Extract signals entered and blocks until gate closes
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, source string, progress pdf.ProgressFunc) ([]string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	pages, ok := f.pages[source]
	if !ok {
		return nil, models.ErrInput
	}
	if progress != nil {
		progress(100)
	}
	return pages, nil
}

// bagEncoder gives every distinct word its own dimension
type bagEncoder struct {
	mu    sync.Mutex
	model string
	vocab map[string]int
	calls atomic.Int32
}

func newBagEncoder(model string) *bagEncoder {
	return &bagEncoder{model: model, vocab: make(map[string]int)}
}

func (e *bagEncoder) Model() string { return e.model }

func (e *bagEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	v := make([]float32, 512)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		idx, ok := e.vocab[w]
		if !ok {
			idx = len(e.vocab)
			e.vocab[w] = idx
		}
		v[idx%len(v)]++
	}
	return v, nil
}

type fakeTranslator struct {
	result  string
	calls   int
	targets []string
}

func (f *fakeTranslator) Translate(_ context.Context, text, target string) string {
	f.calls++
	f.targets = append(f.targets, target)
	if f.result == "" {
		return text
	}
	return f.result
}

type fakeLLM struct {
	mu       sync.Mutex
	answer   string
	question string
	passage  string
	language string
}

func (f *fakeLLM) Query(_ context.Context, question, passage, answerLanguage string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.question, f.passage, f.language = question, passage, answerLanguage
	return f.answer
}

type fixture struct {
	svc        *Service
	extractor  *fakeExtractor
	encoder    *bagEncoder
	translator *fakeTranslator
	llm        *fakeLLM
	cache      *storage.MemoryCache
	state      *storage.MemoryState
}

func newFixture(t *testing.T, maxConversations int) *fixture {
	t.Helper()
	f := &fixture{
		extractor: &fakeExtractor{pages: map[string][]string{
			"/papers/attention.pdf": {englishPaper},
			"/papers/german.pdf":    {germanPaper},
			"/papers/a.pdf":         {englishPaper},
			"/papers/b.pdf":         {englishPaper},
			"/papers/c.pdf":         {englishPaper},
		}},
		encoder:    newBagEncoder("bag-v1"),
		translator: &fakeTranslator{},
		llm:        &fakeLLM{answer: "It is the Transformer."},
		cache:      storage.NewMemoryCache(5),
		state:      storage.NewMemoryState(),
	}
	f.svc = f.newService(t, maxConversations)
	return f
}

func (f *fixture) newService(t *testing.T, maxConversations int) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Model:            "gpt-4",
		ChunkWords:       8,
		MaxConversations: maxConversations,
		Extractor:        f.extractor,
		Encoder:          f.encoder,
		Translator:       f.translator,
		LLM:              f.llm,
		Cache:            f.cache,
		State:            f.state,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func doc(id, source string) models.Document {
	return models.Document{ID: id, Title: strings.ToUpper(id), MainURL: source}
}

// --- MessageStore ---

func TestMessageStore_ConversationMessages(t *testing.T) {
	s := NewMessageStore()
	base := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return base })

	first := s.Send("c1", "first", models.SenderUser, false)
	s.Send("c2", "other conversation", models.SenderUser, false)
	second := s.Send("c1", "second", models.SenderSystem, false)

	got := s.ConversationMessages("c1")
	if len(got) != 3 {
		t.Fatalf("ConversationMessages() returned %d messages, want 3", len(got))
	}
	if got[0].Content != Greeting || got[0].Sender != models.SenderSystem {
		t.Errorf("first message = %+v, want greeting", got[0])
	}
	if got[1].ID != first.ID || got[2].ID != second.ID {
		t.Errorf("messages out of send order: %q, %q", got[1].Content, got[2].Content)
	}
	if !second.Timestamp.After(first.Timestamp) {
		t.Error("timestamps should increase even when the clock stands still")
	}

	if got := s.ConversationMessages("empty"); len(got) != 1 || got[0].Content != Greeting {
		t.Errorf("empty conversation = %+v, want only the greeting", got)
	}
}

func TestMessageStore_UpdateDelete(t *testing.T) {
	s := NewMessageStore()
	msg := s.Send("c1", "draft", models.SenderUser, false)

	msg.Content = "edited"
	s.Update(msg)
	if got, _ := s.Get(msg.ID); got.Content != "edited" {
		t.Errorf("Update() content = %q", got.Content)
	}

	s.Delete(msg.ID)
	if _, ok := s.Get(msg.ID); ok {
		t.Error("message still present after Delete")
	}

	s.Send("c1", "a", models.SenderUser, false)
	s.Send("c1", "b", models.SenderUser, false)
	s.Send("c2", "c", models.SenderUser, false)
	if n := s.DeleteConversation("c1"); n != 2 {
		t.Errorf("DeleteConversation() = %d, want 2", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Len() after Reset = %d", s.Len())
	}
}

func TestMessageStore_ResolveAnswer(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"answer", "Attention is all you need.", "Attention is all you need."},
		{"empty answer", "", FailureMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMessageStore()
			p := s.BeginAnswer("c1")

			placeholder, _ := s.Get(p.MessageID)
			if placeholder.Content != ThinkingMessage || !placeholder.Fake {
				t.Fatalf("placeholder = %+v", placeholder)
			}

			msg, err := s.ResolveAnswer(p, tt.text)
			if err != nil {
				t.Fatalf("ResolveAnswer() error = %v", err)
			}
			if msg.Content != tt.want || msg.Fake || msg.ID != p.MessageID {
				t.Errorf("resolved = %+v", msg)
			}

			if _, err := s.ResolveAnswer(p, "again"); !errors.Is(err, ErrAnswerResolved) {
				t.Errorf("second ResolveAnswer() error = %v, want ErrAnswerResolved", err)
			}
			if got, _ := s.Get(p.MessageID); got.Content != tt.want {
				t.Errorf("second resolve changed content to %q", got.Content)
			}
		})
	}
}

func TestMessageStore_ResolveAfterReset(t *testing.T) {
	s := NewMessageStore()
	p := s.BeginAnswer("c1")
	s.Reset()
	if _, err := s.ResolveAnswer(p, "late"); !errors.Is(err, models.ErrInput) {
		t.Errorf("ResolveAnswer() error = %v, want ErrInput", err)
	}
}

func TestMessageStore_SnapshotRestoreDropsFake(t *testing.T) {
	s := NewMessageStore()
	kept := s.Send("c1", "question", models.SenderUser, false)
	s.BeginAnswer("c1")

	data, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if len(raw["entity"]) != 2 {
		t.Errorf("snapshot entity has %d messages, want 2", len(raw["entity"]))
	}

	restored := NewMessageStore()
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("restored %d messages, want 1", restored.Len())
	}
	if got, ok := restored.Get(kept.ID); !ok || got.Content != "question" {
		t.Errorf("restored message = %+v, %v", got, ok)
	}

	next := restored.Send("c1", "follow-up", models.SenderUser, false)
	if !next.Timestamp.After(kept.Timestamp) {
		t.Error("new message should sort after restored ones")
	}

	if err := restored.Restore([]byte("{broken")); !errors.Is(err, models.ErrParse) {
		t.Errorf("Restore(garbage) error = %v, want ErrParse", err)
	}
}

// --- ConversationStore ---

type stepClock struct {
	sec int64
}

func (c *stepClock) now() time.Time {
	c.sec++
	return time.Unix(c.sec, 0)
}

func TestConversationStore_TouchEvictsOldest(t *testing.T) {
	s := NewConversationStore(5)
	s.SetClock((&stepClock{}).now)

	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		if evicted := s.Touch(id, "T"+id); evicted != nil {
			t.Fatalf("Touch(%s) evicted %v", id, evicted)
		}
	}
	s.Select("d1")

	// refreshing d1 makes d2 the oldest
	s.Touch("d1", "")
	evicted := s.Touch("d6", "T6")
	if len(evicted) != 1 || evicted[0] != "d2" {
		t.Fatalf("Touch(d6) evicted %v, want [d2]", evicted)
	}

	list := s.List()
	if len(list) != 5 {
		t.Fatalf("List() has %d conversations", len(list))
	}
	if list[0].ID != "d6" || list[1].ID != "d1" {
		t.Errorf("List() order = %s, %s", list[0].ID, list[1].ID)
	}
	if c, _ := s.Get("d1"); c.Title != "Td1" {
		t.Errorf("empty title overwrote existing: %q", c.Title)
	}
	if s.Current() != "d1" {
		t.Errorf("Current() = %q, want d1", s.Current())
	}
}

func TestConversationStore_EvictingCurrentClearsSelection(t *testing.T) {
	s := NewConversationStore(1)
	s.Touch("a", "")
	s.Select("a")
	s.Touch("b", "")
	if s.Current() != "" {
		t.Errorf("Current() = %q, want empty", s.Current())
	}
}

func TestConversationStore_RestoreTrims(t *testing.T) {
	big := NewConversationStore(10)
	big.SetClock((&stepClock{}).now)
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7"} {
		big.Touch(id, "")
	}
	big.SetSource("d7", "/papers/d7.pdf")
	big.Select("d1")
	data, err := big.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	s := NewConversationStore(5)
	evicted, err := s.Restore(data)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(evicted) != 2 {
		t.Fatalf("Restore() evicted %v, want 2 ids", evicted)
	}
	for _, id := range evicted {
		if id != "d1" && id != "d2" {
			t.Errorf("evicted %q, want d1 and d2", id)
		}
	}
	if s.Current() != "" {
		t.Errorf("Current() = %q after its conversation was trimmed", s.Current())
	}
	if c, ok := s.Get("d7"); !ok || c.Source != "/papers/d7.pdf" {
		t.Errorf("restored d7 = %+v, %v", c, ok)
	}

	// new touches sort after restored timestamps
	s.Touch("d8", "")
	if s.List()[0].ID != "d8" {
		t.Errorf("newest = %q, want d8", s.List()[0].ID)
	}

	s.Reset()
	if len(s.List()) != 0 || s.Current() != "" {
		t.Error("Reset() left state behind")
	}
}

// --- Service ---

func TestNewService_RequiresDependencies(t *testing.T) {
	if _, err := NewService(Options{}); !errors.Is(err, models.ErrConfig) {
		t.Errorf("NewService() error = %v, want ErrConfig", err)
	}
}

func TestService_StartNeedsExactlyOneDocument(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	for _, docs := range [][]models.Document{nil, {doc("a", "/papers/a.pdf"), doc("b", "/papers/b.pdf")}} {
		_, err := f.svc.Start(ctx, docs, nil)
		if !errors.Is(err, models.ErrInput) {
			t.Errorf("Start(%d docs) error = %v, want ErrInput", len(docs), err)
		}
		if err != nil && !strings.Contains(err.Error(), models.ErrNoSelection) {
			t.Errorf("error %q should carry the selection message", err)
		}
	}

	conv, err := f.svc.Start(ctx, []models.Document{doc("a", "/papers/a.pdf")}, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if conv.ID != "a" || conv.Title != "A" || conv.Source != "/papers/a.pdf" {
		t.Errorf("conversation = %+v", conv)
	}
	if f.svc.Conversations().Current() != "a" {
		t.Errorf("Current() = %q", f.svc.Conversations().Current())
	}
}

func TestService_FailedStartKeepsConversations(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	f.extractor.pages["/papers/de.pdf"] = []string{englishPaper}
	ids := []string{"a", "b", "c", "attn", "de"}
	for _, id := range ids {
		d := doc(id, "/papers/"+id+".pdf")
		if id == "attn" {
			d = doc(id, "/papers/attention.pdf")
		}
		if _, err := f.svc.Ask(ctx, d, "What is the architecture?", nil); err != nil {
			t.Fatalf("Ask(%s) error = %v", id, err)
		}
	}
	messages := f.svc.Messages().Len()

	tests := []struct {
		name string
		call func() error
	}{
		{"ask", func() error {
			_, err := f.svc.Ask(ctx, doc("typo", "/papers/typo.pdf"), "What is the architecture?", nil)
			return err
		}},
		{"start", func() error {
			_, err := f.svc.Start(ctx, []models.Document{doc("typo", "/papers/typo.pdf")}, nil)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, models.ErrInput) {
				t.Fatalf("error = %v, want ErrInput", err)
			}
			if _, ok := f.svc.Conversations().Get("typo"); ok {
				t.Error("a failed document must not get a conversation")
			}
			for _, id := range ids {
				if _, ok := f.svc.Conversations().Get(id); !ok {
					t.Errorf("conversation %s was evicted", id)
				}
				if set, _ := f.cache.Get(ctx, id); set == nil {
					t.Errorf("cache entry %s was evicted", id)
				}
			}
			if got := f.svc.Conversations().Current(); got != "de" {
				t.Errorf("Current() = %q, want de", got)
			}
			if got := f.svc.Messages().Len(); got != messages {
				t.Errorf("messages = %d, want %d", got, messages)
			}
			raw, _ := f.state.Load(ctx, ConversationStateKey)
			if strings.Contains(string(raw), "typo") {
				t.Error("failed document was persisted")
			}
		})
	}
}

func TestService_IngestSurvivesFirstCallerCancel(t *testing.T) {
	f := newFixture(t, 5)
	f.extractor.gate = make(chan struct{})
	f.extractor.entered = make(chan struct{}, 1)
	d := doc("attn", "/papers/attention.pdf")

	first, cancel := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Ingest(first, d, nil)
		firstErr <- err
	}()
	<-f.extractor.entered

	type result struct {
		set *models.EmbeddingSet
		err error
	}
	second := make(chan result, 1)
	go func() {
		set, err := f.svc.Ingest(t.Context(), d, nil)
		second <- result{set, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}
	close(f.extractor.gate)

	res := <-second
	if res.err != nil {
		t.Fatalf("joined caller error = %v", res.err)
	}
	if res.set.Len() != len(core.ChunkWords(englishPaper, 8)) {
		t.Errorf("joined caller got %d chunks", res.set.Len())
	}
}

func TestService_IngestEncodesSerially(t *testing.T) {
	f := newFixture(t, 5)
	enc := &serialEncoder{bagEncoder: newBagEncoder("bag-v1")}
	svc, err := NewService(Options{
		Model:      "gpt-4",
		ChunkWords: 8,
		Extractor:  f.extractor,
		Encoder:    enc,
		LLM:        f.llm,
		Cache:      f.cache,
		State:      f.state,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Ingest(t.Context(), doc("attn", "/papers/attention.pdf"), nil); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if enc.peak.Load() != 1 {
		t.Errorf("peak concurrent encodes = %d, want 1", enc.peak.Load())
	}
}

// serialEncoder records the highest number of concurrent Encode calls
type serialEncoder struct {
	*bagEncoder
	active atomic.Int32
	peak   atomic.Int32
}

func (e *serialEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return e.bagEncoder.Encode(ctx, text)
}

func TestService_IngestCachesAndShares(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()
	d := doc("attn", "/papers/attention.pdf")

	var wg sync.WaitGroup
	sets := make([]*models.EmbeddingSet, 6)
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := f.svc.Ingest(ctx, d, nil)
			if err != nil {
				t.Errorf("Ingest() error = %v", err)
			}
			sets[i] = set
		}(i)
	}
	wg.Wait()

	if n := f.extractor.calls.Load(); n != 1 {
		t.Errorf("extractor called %d times, want 1", n)
	}
	want := len(core.ChunkWords(englishPaper, 8))
	for _, set := range sets {
		if set.Len() != want {
			t.Errorf("set has %d chunks, want %d", set.Len(), want)
		}
	}
	if sets[0].Model != "bag-v1" || sets[0].Lang != "en" || sets[0].RawText == "" {
		t.Errorf("set metadata = model %q lang %q", sets[0].Model, sets[0].Lang)
	}

	cached, _ := f.cache.Get(ctx, "attn")
	if cached == nil || cached.Len() != want {
		t.Fatal("set was not written to the cache")
	}
}

func TestService_IngestReembedsOnModelChange(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	stale := &models.EmbeddingSet{
		DocumentID: "attn",
		Model:      "bag-v0",
		Lang:       "en",
		RawText:    englishPaper,
		Chunks:     []models.Chunk{{Text: "old", Embedding: []float32{1}}},
	}
	if _, err := f.cache.Put(ctx, stale); err != nil {
		t.Fatal(err)
	}

	set, err := f.svc.Ingest(ctx, doc("attn", "/papers/attention.pdf"), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if f.extractor.calls.Load() != 0 {
		t.Error("re-embedding should not extract the PDF again")
	}
	if set.Model != "bag-v1" || set.Len() != len(core.ChunkWords(englishPaper, 8)) {
		t.Errorf("re-embedded set = model %q, %d chunks", set.Model, set.Len())
	}
}

func TestService_IngestErrors(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	if _, err := f.svc.Ingest(ctx, models.Document{MainURL: "/papers/a.pdf"}, nil); !errors.Is(err, models.ErrInput) {
		t.Errorf("Ingest(no id) error = %v, want ErrInput", err)
	}

	f.extractor.pages["/papers/blank.pdf"] = []string{"", "  "}
	if _, err := f.svc.Ingest(ctx, doc("blank", "/papers/blank.pdf"), nil); !errors.Is(err, models.ErrInput) {
		t.Errorf("Ingest(blank) error = %v, want ErrInput", err)
	}

	f.extractor.err = models.ErrExternalService
	if _, err := f.svc.Ingest(ctx, doc("down", "/papers/a.pdf"), nil); !errors.Is(err, models.ErrExternalService) {
		t.Errorf("Ingest(extract failure) error = %v, want ErrExternalService", err)
	}
}

func TestService_SendLLMMessage(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	conv, err := f.svc.Start(ctx, []models.Document{doc("attn", "/papers/attention.pdf")}, nil)
	if err != nil {
		t.Fatal(err)
	}

	chunks := core.ChunkWords(englishPaper, 8)
	question := chunks[3]

	answer, err := f.svc.SendLLMMessage(ctx, conv.ID, question)
	if err != nil {
		t.Fatalf("SendLLMMessage() error = %v", err)
	}
	if answer.Content != "It is the Transformer." || answer.Fake || answer.Sender != models.SenderSystem {
		t.Errorf("answer = %+v", answer)
	}
	if !strings.Contains(f.llm.passage, chunks[3]) {
		t.Errorf("passage %q does not contain the matching chunk", f.llm.passage)
	}
	if f.llm.language != lang.Detect(question).Name {
		t.Errorf("answer language = %q", f.llm.language)
	}

	history := f.svc.History(conv.ID)
	if len(history) != 3 {
		t.Fatalf("history has %d messages, want greeting, question, answer", len(history))
	}
	if history[1].Content != question || history[1].Sender != models.SenderUser {
		t.Errorf("history[1] = %+v", history[1])
	}
	if history[2].ID != answer.ID {
		t.Errorf("history[2] = %+v", history[2])
	}
}

func TestService_PassageRecordsNothing(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	conv, err := f.svc.Start(ctx, []models.Document{doc("attn", "/papers/attention.pdf")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	chunks := core.ChunkWords(englishPaper, 8)

	r, err := f.svc.Passage(ctx, conv.ID, chunks[1])
	if err != nil {
		t.Fatalf("Passage() error = %v", err)
	}
	if !strings.Contains(r.Passage, chunks[1]) || r.Query != chunks[1] {
		t.Errorf("retrieval = %+v", r)
	}
	if r.AnswerLanguage != lang.Detect(chunks[1]).Name {
		t.Errorf("answer language = %q", r.AnswerLanguage)
	}
	if n := len(f.svc.History(conv.ID)); n != 1 {
		t.Errorf("history has %d messages, want only the greeting", n)
	}
	if f.llm.question != "" {
		t.Error("Passage must not call the LLM")
	}

	if _, err := f.svc.Passage(ctx, "nope", "why?"); !errors.Is(err, models.ErrInput) {
		t.Errorf("unknown conversation error = %v, want ErrInput", err)
	}
	if _, err := f.svc.Passage(ctx, conv.ID, "  "); !errors.Is(err, models.ErrInput) {
		t.Errorf("empty question error = %v, want ErrInput", err)
	}
}

func TestService_TranslatesToDocumentLanguage(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	germanChunks := core.ChunkWords(germanPaper, 8)
	f.translator.result = germanChunks[2]

	conv, err := f.svc.Start(ctx, []models.Document{doc("de", "/papers/german.pdf")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	question := "What does the new model achieve on the translation benchmark?"
	if _, err := f.svc.SendLLMMessage(ctx, conv.ID, question); err != nil {
		t.Fatalf("SendLLMMessage() error = %v", err)
	}

	if f.translator.calls != 1 || f.translator.targets[0] != "de" {
		t.Fatalf("translator calls = %d targets = %v, want one call to de", f.translator.calls, f.translator.targets)
	}
	if f.llm.question != germanChunks[2] {
		t.Errorf("LLM question = %q, want the translated text", f.llm.question)
	}
	if !strings.Contains(f.llm.passage, germanChunks[2]) {
		t.Errorf("passage %q does not contain the translated match", f.llm.passage)
	}
	if f.llm.language != lang.Detect(question).Name {
		t.Errorf("answer language = %q, want the question's", f.llm.language)
	}
}

func TestService_SendLLMMessageFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"empty llm answer", func(f *fixture) { f.llm.answer = "" }},
		{"extraction fails", func(f *fixture) {
			f.extractor.err = models.ErrExternalService
			_ = f.cache.ResetAll(context.Background())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			ctx := t.Context()
			conv, _ := f.svc.Start(ctx, []models.Document{doc("attn", "/papers/attention.pdf")}, nil)
			tt.setup(f)

			msg, err := f.svc.SendLLMMessage(ctx, conv.ID, "What is attention?")
			if err != nil {
				t.Fatalf("SendLLMMessage() error = %v", err)
			}
			if msg.Content != FailureMessage {
				t.Errorf("answer = %q, want %q", msg.Content, FailureMessage)
			}
		})
	}
}

func TestService_SendLLMMessageInputErrors(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	if _, err := f.svc.SendLLMMessage(ctx, "nope", "question?"); !errors.Is(err, models.ErrInput) {
		t.Errorf("unknown conversation error = %v, want ErrInput", err)
	}
	conv, _ := f.svc.Start(ctx, []models.Document{doc("attn", "/papers/attention.pdf")}, nil)
	if _, err := f.svc.SendLLMMessage(ctx, conv.ID, "   "); !errors.Is(err, models.ErrInput) {
		t.Errorf("empty question error = %v, want ErrInput", err)
	}
	if f.svc.Messages().Len() != 0 {
		t.Error("rejected questions should not be recorded")
	}
}

func TestService_RetentionEvictsMessagesAndCache(t *testing.T) {
	f := newFixture(t, 2)
	ctx := t.Context()

	for _, d := range []models.Document{doc("a", "/papers/a.pdf"), doc("b", "/papers/b.pdf")} {
		if _, err := f.svc.Ask(ctx, d, "What is the architecture?", nil); err != nil {
			t.Fatalf("Ask(%s) error = %v", d.ID, err)
		}
	}
	if set, _ := f.cache.Get(ctx, "a"); set == nil {
		t.Fatal("a should be cached before eviction")
	}

	if _, err := f.svc.Start(ctx, []models.Document{doc("c", "/papers/c.pdf")}, nil); err != nil {
		t.Fatal(err)
	}

	if _, ok := f.svc.Conversations().Get("a"); ok {
		t.Error("conversation a should be evicted")
	}
	if got := f.svc.History("a"); len(got) != 1 {
		t.Errorf("history of a has %d messages, want only the greeting", len(got))
	}
	if set, _ := f.cache.Get(ctx, "a"); set != nil {
		t.Error("cache entry of a should be evicted with its conversation")
	}
	if set, _ := f.cache.Get(ctx, "b"); set == nil {
		t.Error("b should still be cached")
	}
}

func TestService_PersistsAndRestores(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	answer, err := f.svc.Ask(ctx, doc("attn", "/papers/attention.pdf"), "What is attention?", nil)
	if err != nil {
		t.Fatal(err)
	}

	// a dangling placeholder from an interrupted answer must not come back
	f.svc.Messages().BeginAnswer("attn")
	f.svc.save(ctx)

	raw, _ := f.state.Load(ctx, ConversationStateKey)
	if !strings.Contains(string(raw), `"entity"`) {
		t.Errorf("conversation state %s lacks the entity envelope", raw)
	}

	restored := f.newService(t, 5)
	if err := restored.Load(ctx, false); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	history := restored.History("attn")
	if len(history) != 3 || history[2].ID != answer.ID {
		t.Fatalf("restored history = %+v", history)
	}
	for _, m := range history {
		if m.Fake {
			t.Errorf("fake message restored: %+v", m)
		}
	}
	if restored.Conversations().Current() != "attn" {
		t.Errorf("Current() = %q after restore", restored.Conversations().Current())
	}

	// a later question re-uses the cached embeddings through the stored source
	if _, err := restored.SendLLMMessage(ctx, "attn", "And the training cost?"); err != nil {
		t.Fatal(err)
	}
	if f.extractor.calls.Load() != 1 {
		t.Errorf("extractor called %d times, want 1", f.extractor.calls.Load())
	}
}

func TestService_ResetAll(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	if _, err := f.svc.Ask(ctx, doc("attn", "/papers/attention.pdf"), "What is attention?", nil); err != nil {
		t.Fatal(err)
	}

	restored := f.newService(t, 5)
	if err := restored.Load(ctx, true); err != nil {
		t.Fatalf("Load(reset) error = %v", err)
	}
	if restored.Messages().Len() != 0 || len(restored.Conversations().List()) != 0 {
		t.Error("reset load restored chat state")
	}
	entries, _ := restored.CacheEntries(ctx)
	if len(entries) != 0 {
		t.Errorf("cache has %d entries after reset", len(entries))
	}
	if data, _ := f.state.Load(ctx, MessageStateKey); data != nil {
		t.Error("message state survived reset")
	}
}

func TestService_DeleteConversation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	if _, err := f.svc.Ask(ctx, doc("attn", "/papers/attention.pdf"), "What is attention?", nil); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteConversation(ctx, "attn"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if f.svc.Messages().Len() != 0 {
		t.Error("messages left after DeleteConversation")
	}
	if set, _ := f.cache.Get(ctx, "attn"); set != nil {
		t.Error("cache entry left after DeleteConversation")
	}
	if err := f.svc.DeleteConversation(ctx, "attn"); !errors.Is(err, models.ErrInput) {
		t.Errorf("second DeleteConversation() error = %v, want ErrInput", err)
	}
}
