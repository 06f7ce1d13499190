package engine

import (
	"context"
	"log/slog"

	"github.com/yangwenmai/softpost/internal/config"
)

// NewModelClient builds the provider selected by cfg.LLMProvider. It falls
// back to the stub when the provider has no credentials.
func NewModelClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (ModelClient, error) {
	if cfg.UseStubs() {
		logger.Warn("no LLM credentials configured, using stub model client", "provider", cfg.LLMProvider)
		return &StubModelClient{}, nil
	}

	switch cfg.LLMProvider {
	case config.ProviderClaude:
		logger.Info("using Claude model client", "model", cfg.AnthropicModel)
		return NewClaudeClient(cfg.AnthropicKey,
			WithClaudeModel(cfg.AnthropicModel),
			WithClaudeTimeout(cfg.HTTPTimeout),
		), nil
	case config.ProviderGemini:
		logger.Info("using Gemini model client", "model", cfg.GeminiModel)
		c, err := NewGeminiClient(ctx, cfg.GeminiKey, WithGeminiModel(cfg.GeminiModel))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderOllama:
		logger.Info("using Ollama model client", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return NewOllamaClient(cfg.OllamaURL,
			WithOllamaModel(cfg.OllamaModel),
			WithOllamaTimeout(cfg.HTTPTimeout),
		), nil
	default:
		logger.Info("using OpenAI model client", "model", cfg.OpenAIModel, "base_url", cfg.OpenAIBaseURL)
		opts := []OpenAIOption{WithModel(cfg.OpenAIModel), WithTimeout(cfg.HTTPTimeout)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.OpenAIBaseURL))
		}
		return NewOpenAIClient(cfg.OpenAIKey, opts...), nil
	}
}
