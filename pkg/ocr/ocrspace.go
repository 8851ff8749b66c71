// Package ocr extracts text from images.
package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.ocr.space/parse/image"

// ErrNoText is returned when the image contains no recognisable text.
var ErrNoText = errors.New("no text found in image")

// Extractor turns image bytes into text.
type Extractor interface {
	ExtractText(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// FormatChecker is implemented by extractors that only read some image
// formats.
type FormatChecker interface {
	SupportsImage(contentType string) bool
}

// MediaType strips parameters from a content type and lowercases it.
func MediaType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// SpaceClient talks to the OCR.space parse API.
type SpaceClient struct {
	endpoint   string
	apiKey     string
	language   string
	engine     string
	httpClient *http.Client
}

// Option customises a SpaceClient.
type Option func(*SpaceClient)

// WithEndpoint overrides the API URL.
func WithEndpoint(endpoint string) Option {
	return func(c *SpaceClient) {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithLanguage sets the OCR language code (default "eng").
func WithLanguage(lang string) Option {
	return func(c *SpaceClient) {
		if lang = strings.TrimSpace(lang); lang != "" {
			c.language = lang
		}
	}
}

// NewSpaceClient builds a client; apiKey is required.
func NewSpaceClient(apiKey string, opts ...Option) (*SpaceClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("ocr api key required")
	}
	c := &SpaceClient{
		endpoint:   defaultEndpoint,
		apiKey:     apiKey,
		language:   "eng",
		engine:     "2",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	// ErrorMessage is a string or a list of strings depending on the failure.
	ErrorMessage json.RawMessage `json:"ErrorMessage"`
}

// ExtractText submits the image base64-encoded and returns the parsed text.
func (c *SpaceClient) ExtractText(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("ocr: empty image")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("language", c.language)
	form.Set("OCREngine", c.engine)
	form.Set("base64Image", "data:"+contentType+";base64,"+base64.StdEncoding.EncodeToString(data))
	if ext := fileType(filename); ext != "" {
		form.Set("filetype", ext)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("ocr api error: %s", resp.Status)
	}

	var out parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ocr decode: %w", err)
	}
	if out.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr api error: %s", errorMessage(out.ErrorMessage))
	}
	if len(out.ParsedResults) == 0 {
		return "", ErrNoText
	}
	var b strings.Builder
	for i, r := range out.ParsedResults {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.ParsedText)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "processing failed"
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single
	}
	return "processing failed"
}

// fileType returns the upper-case extension OCR.space uses to pick a decoder.
func fileType(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToUpper(filename[i+1:])
}

// SupportsImage reports whether OCR.space accepts the image type.
func (c *SpaceClient) SupportsImage(contentType string) bool {
	switch MediaType(contentType) {
	case "image/png", "image/jpeg", "image/jpg", "image/gif", "image/bmp", "image/tiff":
		return true
	}
	return false
}
