// ABOUTME: Model registry mapping model ids to their provider and context token ceiling
// ABOUTME: Unknown models resolve to the custom OpenAI-compatible provider when a custom URL is set
package llm

import (
	"fmt"
	"sort"

	"github.com/harper/paperchat/internal/models"
)

// ModelInfo describes one supported model. MaxTokens of 0 means no ceiling.
type ModelInfo struct {
	Provider  string
	MaxTokens int
}

// Registry maps model ids to providers
type Registry struct {
	providers map[string]Provider
	models    map[string]ModelInfo
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}, models: map[string]ModelInfo{}}
}

// DefaultRegistry returns the built-in providers and model table
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterProvider(chatCompletions{name: ProviderOpenAI, defaultBase: "https://api.openai.com/", path: "v1/chat/completions"})
	r.RegisterProvider(chatCompletions{name: ProviderPerplexity, defaultBase: "https://api.perplexity.ai/", path: "chat/completions"})
	r.RegisterProvider(chatCompletions{name: ProviderChatGLM, defaultBase: "https://open.bigmodel.cn/", path: "api/paas/v4/chat/completions"})
	r.RegisterProvider(chatCompletions{name: ProviderCustom, path: "v1/chat/completions"})
	r.RegisterProvider(gemini{defaultBase: "https://generativelanguage.googleapis.com/"})

	for model, limit := range map[string]int{
		"gpt-3.5-turbo":      4096,
		"gpt-3.5-turbo-16k":  16385,
		"gpt-3.5-turbo-1106": 16385,
		"gpt-4":              8192,
		"gpt-4-32k":          32768,
		"gpt-4-1106-preview": 128000,
	} {
		r.RegisterModel(model, ModelInfo{Provider: ProviderOpenAI, MaxTokens: limit})
	}
	for model, limit := range map[string]int{
		"codellama-70b-instruct": 16384,
		"mistral-7b-instruct":    16385,
		"mixtral-8x7b-instruct":  16385,
		"sonar-small-chat":       16385,
		"sonar-medium-chat":      16385,
	} {
		r.RegisterModel(model, ModelInfo{Provider: ProviderPerplexity, MaxTokens: limit})
	}
	for _, model := range []string{"glm-4", "glm-4-flash", "glm-3-turbo"} {
		r.RegisterModel(model, ModelInfo{Provider: ProviderChatGLM, MaxTokens: 128000})
	}
	for _, model := range []string{"gemini-pro", "gemini-1.5-pro-latest"} {
		r.RegisterModel(model, ModelInfo{Provider: ProviderGemini})
	}
	return r
}

// RegisterProvider adds or replaces a provider by name
func (r *Registry) RegisterProvider(p Provider) {
	r.providers[p.Name()] = p
}

// RegisterModel adds or replaces a model entry
func (r *Registry) RegisterModel(model string, info ModelInfo) {
	r.models[model] = info
}

// Resolve returns the provider and model info for model. An unregistered model
// goes to the custom provider when customURL is set.
func (r *Registry) Resolve(model, customURL string) (Provider, ModelInfo, error) {
	info, ok := r.models[model]
	if !ok {
		if customURL == "" {
			return nil, ModelInfo{}, fmt.Errorf("%w: unknown model %q and no custom API URL", models.ErrConfig, model)
		}
		info = ModelInfo{Provider: ProviderCustom}
	}
	p, ok := r.providers[info.Provider]
	if !ok {
		return nil, ModelInfo{}, fmt.Errorf("%w: no provider %q for model %q", models.ErrConfig, info.Provider, model)
	}
	return p, info, nil
}

// Models lists registered model ids, sorted
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ProviderFor returns the provider name of a registered model
func (r *Registry) ProviderFor(model string) (string, bool) {
	info, ok := r.models[model]
	return info.Provider, ok
}
