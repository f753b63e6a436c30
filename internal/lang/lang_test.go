// ABOUTME: Tests for language detection defaults and translation fallbacks
// ABOUTME: The LLM is replaced by a scripted Completer
package lang

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/harper/paperchat/internal/models"
)

type scriptedLLM struct {
	reply  string
	err    error
	system string
	user   string
}

func (s *scriptedLLM) Complete(_ context.Context, system, user string) (string, error) {
	s.system, s.user = system, user
	return s.reply, s.err
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short input uses default", "Hola", "en"},
		{"digits do not count as letters", "1234567890 12345", "en"},
		{"english", "What is the main contribution of this paper and how is it evaluated?", "en"},
		{"german", "Was ist der wichtigste Beitrag dieser Arbeit und wie wird er bewertet? Ich verstehe die Methode nicht.", "de"},
		{"french", "Quelle est la principale contribution de cet article et comment est-elle évaluée par les auteurs?", "fr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.text); got.Code != tt.want {
				t.Errorf("Detect(%q) = %+v, want code %s", tt.text, got, tt.want)
			}
		})
	}

	if got := Detect(""); got != Default {
		t.Errorf("Detect(\"\") = %+v, want default", got)
	}
}

func TestTranslate(t *testing.T) {
	llm := &scriptedLLM{reply: `{"translationResult": "What is attention?"}`}
	tr := NewTranslator(llm, nil)

	got := tr.Translate(context.Background(), "¿Qué es la atención?", "English")
	if got != "What is attention?" {
		t.Errorf("Translate() = %q", got)
	}
	if !strings.Contains(llm.system, "English") || llm.user != "¿Qué es la atención?" {
		t.Errorf("prompt not built as expected: system=%q user=%q", llm.system, llm.user)
	}
}

func TestTranslate_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"malformed json", `{"translationResult": "Hello"`, nil},
		{"plain text reply", "Hello", nil},
		{"wrong key", `{"translation": "Hello"}`, nil},
		{"empty result", `{"translationResult": "  "}`, nil},
		{"empty reply", "", nil},
		{"llm error", "", models.ErrExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTranslator(&scriptedLLM{reply: tt.reply, err: tt.err}, nil)
			if got := tr.Translate(context.Background(), "Hola", "English"); got != "Hola" {
				t.Errorf("Translate() = %q, want original text", got)
			}
		})
	}
}

func TestTranslate_NoLLM(t *testing.T) {
	if got := NewTranslator(nil, nil).Translate(context.Background(), "Hola", "English"); got != "Hola" {
		t.Errorf("Translate() = %q", got)
	}
}

func TestParseEnvelope(t *testing.T) {
	fenced := "```json\n{\"translationResult\": \"Bonjour\"}\n```"
	got, err := ParseEnvelope(fenced)
	if err != nil || got != "Bonjour" {
		t.Errorf("ParseEnvelope(fenced) = %q, %v", got, err)
	}

	bare := "```\n{\"translationResult\": \"Hallo\"}```"
	if got, err := ParseEnvelope(bare); err != nil || got != "Hallo" {
		t.Errorf("ParseEnvelope(bare fence) = %q, %v", got, err)
	}

	if _, err := ParseEnvelope("nope"); !errors.Is(err, models.ErrParse) {
		t.Errorf("error = %v, want ErrParse", err)
	}
	if _, err := ParseEnvelope(`{"translationResult": ""}`); !errors.Is(err, models.ErrParse) {
		t.Errorf("empty result error = %v, want ErrParse", err)
	}
}
