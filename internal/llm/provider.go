// ABOUTME: Chat-completion providers: request building, endpoints and response parsing per vendor
// ABOUTME: OpenAI-compatible vendors share go-openai request/response types; Gemini has its own shape
package llm

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harper/paperchat/internal/models"
)

// ProviderConfig is resolved for every call and never persisted
type ProviderConfig struct {
	Provider         string
	Model            string
	APIKey           string
	BaseURL          string
	MaxContextTokens int
}

// Provider adapts one vendor's chat-completion API
type Provider interface {
	Name() string
	Endpoint(cfg ProviderConfig) string
	Headers(cfg ProviderConfig) map[string]string
	BuildRequest(cfg ProviderConfig, system, user string) (any, error)
	ParseResponse(body []byte) (string, error)
}

// Provider names
const (
	ProviderOpenAI     = "openai"
	ProviderPerplexity = "perplexity"
	ProviderChatGLM    = "chatglm"
	ProviderGemini     = "gemini"
	ProviderCustom     = "custom"
)

// withSlash makes base safe to concatenate with a relative path
func withSlash(base string) string {
	if strings.HasSuffix(base, "/") {
		return base
	}
	return base + "/"
}

// chatCompletions serves every vendor that speaks the OpenAI chat API
type chatCompletions struct {
	name        string
	defaultBase string
	path        string
}

func (p chatCompletions) Name() string { return p.name }

func (p chatCompletions) Endpoint(cfg ProviderConfig) string {
	base := cfg.BaseURL
	if base == "" {
		base = p.defaultBase
	}
	return withSlash(base) + p.path
}

func (p chatCompletions) Headers(cfg ProviderConfig) map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + cfg.APIKey
	}
	return h
}

func (p chatCompletions) BuildRequest(cfg ProviderConfig, system, user string) (any, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	return openai.ChatCompletionRequest{Model: cfg.Model, Messages: messages}, nil
}

func (p chatCompletions) ParseResponse(body []byte) (string, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %s response: %v", models.ErrParse, p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s response has no choices", models.ErrParse, p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// gemini speaks the generateContent API
type gemini struct {
	defaultBase string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g gemini) Name() string { return ProviderGemini }

func (g gemini) Endpoint(cfg ProviderConfig) string {
	base := cfg.BaseURL
	if base == "" {
		base = g.defaultBase
	}
	return fmt.Sprintf("%sv1beta/models/%s:generateContent?key=%s",
		withSlash(base), url.PathEscape(cfg.Model), url.QueryEscape(cfg.APIKey))
}

func (g gemini) Headers(ProviderConfig) map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

// BuildRequest sends the system instruction as the first part of the user turn;
// gemini-pro has no separate system slot
func (g gemini) BuildRequest(_ ProviderConfig, system, user string) (any, error) {
	parts := make([]geminiPart, 0, 2)
	if system != "" {
		parts = append(parts, geminiPart{Text: system})
	}
	parts = append(parts, geminiPart{Text: user})
	return geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}}, nil
}

func (g gemini) ParseResponse(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: gemini response: %v", models.ErrParse, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini response has no candidates", models.ErrParse)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
