// ABOUTME: Tests for the LLM gateway, provider adapters, registry and prompt truncation
// ABOUTME: Providers are exercised against httptest servers through the custom API URL override
package llm

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harper/paperchat/internal/config"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// doubleCounter reports two tokens per word
type doubleCounter struct{}

func (doubleCounter) Count(text string) int { return 2 * len(strings.Fields(text)) }

func fakeTokenizer(string) Tokenizer { return doubleCounter{} }

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w"
	}
	return strings.Join(w, " ")
}

func TestRegistry_Resolve(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name      string
		model     string
		customURL string
		provider  string
		maxTokens int
		wantErr   bool
	}{
		{"openai", "gpt-3.5-turbo", "", ProviderOpenAI, 4096, false},
		{"gpt-4 turbo", "gpt-4-1106-preview", "", ProviderOpenAI, 128000, false},
		{"perplexity", "mixtral-8x7b-instruct", "", ProviderPerplexity, 16385, false},
		{"chatglm", "glm-4", "", ProviderChatGLM, 128000, false},
		{"gemini has no ceiling", "gemini-pro", "", ProviderGemini, 0, false},
		{"known model ignores custom url", "gpt-4", "http://localhost:8080", ProviderOpenAI, 8192, false},
		{"unknown with custom url", "llama3", "http://localhost:8080", ProviderCustom, 0, false},
		{"unknown without custom url", "llama3", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, info, err := r.Resolve(tt.model, tt.customURL)
			if tt.wantErr {
				if !errors.Is(err, models.ErrConfig) {
					t.Fatalf("Resolve() error = %v, want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if p.Name() != tt.provider || info.Provider != tt.provider {
				t.Errorf("provider = %q/%q, want %q", p.Name(), info.Provider, tt.provider)
			}
			if info.MaxTokens != tt.maxTokens {
				t.Errorf("MaxTokens = %d, want %d", info.MaxTokens, tt.maxTokens)
			}
		})
	}
}

func TestRegistry_ModelsSorted(t *testing.T) {
	got := DefaultRegistry().Models()
	if len(got) == 0 {
		t.Fatal("no models registered")
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("Models() not sorted at %d: %q > %q", i, got[i-1], got[i])
		}
	}
	if p, ok := DefaultRegistry().ProviderFor("sonar-small-chat"); !ok || p != ProviderPerplexity {
		t.Errorf("ProviderFor(sonar-small-chat) = %q, %v", p, ok)
	}
}

func TestProviders_Endpoint(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		provider string
		cfg      ProviderConfig
		want     string
	}{
		{ProviderOpenAI, ProviderConfig{Model: "gpt-4"}, "https://api.openai.com/v1/chat/completions"},
		{ProviderPerplexity, ProviderConfig{Model: "sonar-small-chat"}, "https://api.perplexity.ai/chat/completions"},
		{ProviderChatGLM, ProviderConfig{Model: "glm-4"}, "https://open.bigmodel.cn/api/paas/v4/chat/completions"},
		{ProviderOpenAI, ProviderConfig{Model: "gpt-4", BaseURL: "http://proxy.local"}, "http://proxy.local/v1/chat/completions"},
		{ProviderCustom, ProviderConfig{Model: "llama3", BaseURL: "http://localhost:11434/"}, "http://localhost:11434/v1/chat/completions"},
		{ProviderGemini, ProviderConfig{Model: "gemini-pro", APIKey: "a b&c"},
			"https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent?key=a+b%26c"},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.cfg.Model, func(t *testing.T) {
			p := r.providers[tt.provider]
			if got := p.Endpoint(tt.cfg); got != tt.want {
				t.Errorf("Endpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChatCompletions_Headers(t *testing.T) {
	p := chatCompletions{name: ProviderOpenAI}
	if h := p.Headers(ProviderConfig{APIKey: "sk-1"}); h["Authorization"] != "Bearer sk-1" {
		t.Errorf("Authorization = %q", h["Authorization"])
	}
	if h := p.Headers(ProviderConfig{}); h["Authorization"] != "" {
		t.Errorf("Authorization without key = %q", h["Authorization"])
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		p    Provider
		body string
	}{
		{"openai not json", chatCompletions{name: ProviderOpenAI}, "<html>"},
		{"openai no choices", chatCompletions{name: ProviderOpenAI}, `{"choices":[]}`},
		{"gemini not json", gemini{}, "nope"},
		{"gemini no candidates", gemini{}, `{"candidates":[]}`},
		{"gemini no parts", gemini{}, `{"candidates":[{"content":{"parts":[]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.p.ParseResponse([]byte(tt.body)); !errors.Is(err, models.ErrParse) {
				t.Errorf("ParseResponse() error = %v, want ErrParse", err)
			}
		})
	}
}

func TestPrompts(t *testing.T) {
	if got := SystemInstruction(""); got != SystemPrompt {
		t.Errorf("SystemInstruction(\"\") = %q", got)
	}
	if got := SystemInstruction("French"); got != SystemPrompt+" Please answer in French." {
		t.Errorf("SystemInstruction(French) = %q", got)
	}
	got := UserPrompt("what is attention", "Attention is all you need")
	want := "I'm reading a paper, I have a question: what is attention. Please help me answer it with the following context: Attention is all you need."
	if got != want {
		t.Errorf("UserPrompt() = %q", got)
	}
	if got := Minimize("  a\n\tb   c  "); got != "a b c" {
		t.Errorf("Minimize() = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxTokens int
		wantWords int
	}{
		{"over budget", words(100), 100, 45},
		{"exactly at budget", words(50), 100, 50},
		{"under budget", words(10), 100, 10},
		{"no ceiling", words(100), 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.text, tt.maxTokens, doubleCounter{})
			if n := len(strings.Fields(got)); n != tt.wantWords {
				t.Errorf("Truncate() kept %d words, want %d", n, tt.wantWords)
			}
		})
	}

	if got := Truncate("a\n\n b", 100, nil); got != "a b" {
		t.Errorf("Truncate() without tokenizer = %q", got)
	}
}

func TestWordCounter(t *testing.T) {
	if got := (WordCounter{}).Count(" one two\nthree "); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func newGateway(cfg *config.Config) *Gateway {
	return New(cfg, logger.Nop(), WithTokenizer(fakeTokenizer))
}

func TestGateway_OpenAICompatible(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"It proposes the Transformer."}}]}`)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Model = "gpt-4"
	cfg.OpenAIKey = "sk-test"
	cfg.CustomAPIURL = srv.URL

	got := newGateway(cfg).Query(t.Context(), "what is new", "We  propose\n the Transformer", "English")
	if got != "It proposes the Transformer." {
		t.Fatalf("Query() = %q", got)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4" || len(gotReq.Messages) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotReq.Messages[0].Role != "system" || !strings.HasSuffix(gotReq.Messages[0].Content, "Please answer in English.") {
		t.Errorf("system message = %+v", gotReq.Messages[0])
	}
	if !strings.Contains(gotReq.Messages[1].Content, "We propose the Transformer") {
		t.Errorf("user message not minimized: %q", gotReq.Messages[1].Content)
	}
}

func TestGateway_TruncatesToModelCeiling(t *testing.T) {
	var userContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		userContent = req.Messages[len(req.Messages)-1].Content
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Model = "gpt-3.5-turbo"
	cfg.CustomAPIURL = srv.URL

	if _, err := newGateway(cfg).Complete(t.Context(), "sys", words(4096)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	// 4096 words count as 8192 tokens against a 4096 ceiling
	if n := len(strings.Fields(userContent)); n != 1843 {
		t.Errorf("user words sent = %d, want 1843", n)
	}
}

func TestGateway_Gemini(t *testing.T) {
	var gotPath, gotKey string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Une reponse."}]}}]}`)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Model = "gemini-pro"
	cfg.GeminiKey = "g-key"
	cfg.CustomAPIURL = srv.URL + "/"

	got := newGateway(cfg).Query(t.Context(), "quoi", "contexte", "French")
	if got != "Une reponse." {
		t.Fatalf("Query() = %q", got)
	}
	if gotPath != "/v1beta/models/gemini-pro:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "g-key" {
		t.Errorf("key = %q", gotKey)
	}
	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
	if !strings.HasSuffix(gotReq.Contents[0].Parts[0].Text, "Please answer in French.") {
		t.Errorf("system part = %q", gotReq.Contents[0].Parts[0].Text)
	}
}

func TestGateway_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, models.ErrExternalService},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, models.ErrExternalService},
		{"malformed body", http.StatusOK, `not json`, models.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			cfg := config.Default()
			cfg.Model = "gpt-4"
			cfg.CustomAPIURL = srv.URL
			g := newGateway(cfg)

			if _, err := g.Complete(t.Context(), "sys", "user"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Complete() error = %v, want %v", err, tt.wantErr)
			}
			if got := g.Query(t.Context(), "q", "c", "English"); got != "" {
				t.Errorf("Query() = %q, want empty", got)
			}
		})
	}
}

func TestGateway_UnknownModel(t *testing.T) {
	cfg := config.Default()
	cfg.Model = "no-such-model"
	cfg.CustomAPIURL = ""

	if _, err := newGateway(cfg).Complete(t.Context(), "sys", "user"); !errors.Is(err, models.ErrConfig) {
		t.Errorf("Complete() error = %v, want ErrConfig", err)
	}
}

func TestGateway_ProviderConfigReadsKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Model = "glm-4"
	cfg.ChatGLMKey = "glm-key"

	_, pc, err := newGateway(cfg).ProviderConfig()
	if err != nil {
		t.Fatalf("ProviderConfig() error = %v", err)
	}
	if pc.APIKey != "glm-key" || pc.MaxContextTokens != 128000 || pc.Provider != ProviderChatGLM {
		t.Errorf("ProviderConfig() = %+v", pc)
	}
}

func TestGateway_Preflight(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		setup   func(cfg *config.Config)
		wantErr bool
	}{
		{"gemini without key", "gemini-pro", func(*config.Config) {}, true},
		{"gemini with key", "gemini-pro", func(c *config.Config) { c.GeminiKey = "g" }, false},
		{"openai key does not cover perplexity", "sonar-small-chat", func(c *config.Config) { c.OpenAIKey = "sk" }, true},
		{"custom needs no key", "llama3", func(c *config.Config) { c.CustomAPIURL = "http://localhost:11434" }, false},
		{"unknown model", "llama3", func(*config.Config) {}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Model = tt.model
			tt.setup(cfg)
			err := newGateway(cfg).Preflight()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Preflight() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrConfig) {
				t.Errorf("Preflight() error = %v, want ErrConfig", err)
			}
		})
	}
}
