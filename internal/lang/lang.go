// ABOUTME: Query language detection with whatlanggo and LLM-backed translation into the document language
// ABOUTME: Translation never fails the caller; any problem returns the input text unchanged
package lang

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"

	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

// MinLetters is the shortest input, in letters, that detection will classify
const MinLetters = 10

// Language is a detected language
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Default is returned when detection is unsure
var Default = Language{Code: "en", Name: "English"}

// Detect identifies the language of text, falling back to Default for short or
// unrecognizable input
func Detect(text string) Language {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < MinLetters {
		return Default
	}

	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" || info.Confidence <= 0 {
		return Default
	}
	return Language{Code: code, Name: info.Lang.String()}
}

// Completer runs a single-shot chat completion
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Translator translates queries with an LLM
type Translator struct {
	llm Completer
	log logger.Logger
}

// NewTranslator creates a Translator
func NewTranslator(llm Completer, log logger.Logger) *Translator {
	if log == nil {
		log = logger.Nop()
	}
	return &Translator{llm: llm, log: log.With("component", "translator")}
}

type envelope struct {
	TranslationResult *string `json:"translationResult"`
}

const translateSystem = `You are a translation engine. Translate the user's text into %s. ` +
	`Respond with JSON only, exactly of the form {"translationResult": "<translated text>"}, with no commentary.`

// Translate returns text in target, or text itself when translation fails
func (t *Translator) Translate(ctx context.Context, text, target string) string {
	if strings.TrimSpace(text) == "" || t.llm == nil {
		return text
	}

	raw, err := t.llm.Complete(ctx, fmt.Sprintf(translateSystem, target), text)
	if err != nil {
		t.log.Warn("translation failed, using original text", "target", target, "error", err)
		return text
	}

	translated, err := ParseEnvelope(raw)
	if err != nil {
		t.log.Warn("translation response rejected, using original text", "target", target, "error", err)
		return text
	}
	return translated
}

// ParseEnvelope extracts translationResult from a model reply, tolerating a
// surrounding markdown code fence
func ParseEnvelope(raw string) (string, error) {
	body := stripFence(raw)
	if body == "" {
		return "", fmt.Errorf("%w: empty translation response", models.ErrParse)
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", fmt.Errorf("%w: translation envelope: %v", models.ErrParse, err)
	}
	if env.TranslationResult == nil {
		return "", fmt.Errorf("%w: translationResult missing", models.ErrParse)
	}
	result := strings.TrimSpace(*env.TranslationResult)
	if result == "" {
		return "", fmt.Errorf("%w: translationResult is empty", models.ErrParse)
	}
	return result, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop a language tag such as ```json
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
