package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"google.golang.org/genai"
)

// GeminiClient implements ModelClient using the Google Gen AI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	backoff time.Duration
	baseURL string
	retry   retrypolicy.RetryPolicy[string]
}

// GeminiOption configures the Gemini client.
type GeminiOption func(*GeminiClient)

// WithGeminiModel sets the model name.
func WithGeminiModel(model string) GeminiOption {
	return func(c *GeminiClient) { c.model = model }
}

// WithGeminiBaseURL overrides the Gemini API endpoint.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = url }
}

// WithGeminiRetryBackoff sets the delay before the retry of a transient failure.
func WithGeminiRetryBackoff(d time.Duration) GeminiOption {
	return func(c *GeminiClient) { c.backoff = d }
}

// NewGeminiClient creates a new Google Gemini model client.
func NewGeminiClient(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	c := &GeminiClient{model: "gemini-2.0-flash"}
	for _, opt := range opts {
		opt(c)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	c.client = client
	c.retry = newRetryPolicy(c.backoff)
	return c, nil
}

// Complete sends a prompt to the Gemini API and returns the response text.
func (c *GeminiClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(opts.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}

	out, err := withRetry(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.generate(ctx, model, prompt, config)
	})
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return out, nil
}

func (c *GeminiClient) generate(ctx context.Context, model, prompt string, config *genai.GenerateContentConfig) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &APIError{StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return "", err
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content in response")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in response")
	}
	return sb.String(), nil
}
