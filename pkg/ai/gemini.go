package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"studybuddy/pkg/ocr"
)

const (
	defaultGeminiModel  = "gemini-1.5-flash"
	defaultGenerateWait = 120 * time.Second
)

const visionPrompt = "Extract all readable text from this image. Return only the text, preserving line breaks. If there is no text, return an empty answer."

// GeminiClient wraps the Gemini SDK client with a fixed model. It serves both
// text generation and image text extraction.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: cl, model: model, timeout: defaultGenerateWait}, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// GenerateText implements TextGenerator.
func (c *GeminiClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m := c.client.GenerativeModel(c.model)
	if strings.TrimSpace(systemPrompt) != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ExtractText reads the text in an image with the vision model. The signature
// matches ocr.Extractor so it can replace the OCR service.
func (c *GeminiClient) ExtractText(ctx context.Context, _ string, contentType string, data []byte) (string, error) {
	format := imageFormat(contentType)
	if format == "" {
		return "", fmt.Errorf("gemini vision: unsupported content type %q", contentType)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m := c.client.GenerativeModel(c.model)
	resp, err := m.GenerateContent(ctx, genai.ImageData(format, data), genai.Text(visionPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini vision: %w", err)
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

// SupportsImage reports whether the vision model accepts the image type.
func (c *GeminiClient) SupportsImage(contentType string) bool {
	return imageFormat(contentType) != ""
}

// imageFormat maps a MIME type to the format name the SDK expects.
func imageFormat(contentType string) string {
	switch ocr.MediaType(contentType) {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/heic":
		return "heic"
	case "image/heif":
		return "heif"
	default:
		return ""
	}
}
