package ai

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// TextGenerator generates text from a system prompt and user prompt.
// All providers (Gemini, OpenAI-compatible, Ollama) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorFunc adapts a function to TextGenerator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f GeneratorFunc) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// StripCodeFence removes a surrounding ```lang ... ``` block, which models
// tend to add around JSON answers.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
