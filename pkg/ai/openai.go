package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls any OpenAI-compatible chat completions endpoint
// (OpenAI, vLLM, LiteLLM, OpenRouter, self-hosted models).
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds the generator. baseURL may be empty for the
// public OpenAI API and should include the /v1 prefix otherwise.
func NewOpenAIGenerator(baseURL, apiKey, model string) (*OpenAIGenerator, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("openai generation model required")
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: defaultGenerateWait}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// GenerateText implements TextGenerator.
func (g *OpenAIGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai api error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("openai request after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
