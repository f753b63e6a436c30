// ABOUTME: Prompt composition for paper questions and token-budget truncation
// ABOUTME: Text is whitespace-normalized before counting and cut by word when over budget
package llm

import (
	"fmt"
	"math"
	"strings"
)

// SystemPrompt is the base instruction for every answer
const SystemPrompt = "You are a academic paper explainer, skilled in explaining content of a paper."

// SystemInstruction adds the answer language to the base instruction
func SystemInstruction(answerLanguage string) string {
	if answerLanguage == "" {
		return SystemPrompt
	}
	return SystemPrompt + " Please answer in " + answerLanguage + "."
}

// UserPrompt wraps the question and its retrieved context
func UserPrompt(question, context string) string {
	return fmt.Sprintf("I'm reading a paper, I have a question: %s. Please help me answer it with the following context: %s.", question, context)
}

// Minimize collapses every whitespace run to a single space
func Minimize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate keeps floor(words * (maxTokens/T) * 0.9) words of text when its
// token count T exceeds maxTokens. A non-positive maxTokens means no ceiling.
func Truncate(text string, maxTokens int, tok Tokenizer) string {
	text = Minimize(text)
	if maxTokens <= 0 || tok == nil {
		return text
	}
	total := tok.Count(text)
	if total <= maxTokens {
		return text
	}

	words := strings.Fields(text)
	keep := int(math.Floor(float64(len(words)) * (float64(maxTokens) / float64(total)) * 0.9))
	if keep < 0 {
		keep = 0
	}
	if keep > len(words) {
		keep = len(words)
	}
	return strings.Join(words[:keep], " ")
}
