// Package config provides centralized configuration for the softpost server.
// All configurable values are loaded from environment variables with sensible defaults.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderStub   = "stub"
)

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string

	// DBPath is the path to the SQLite database file.
	DBPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LLMProvider selects which LLM backend to use: "openai", "claude", "gemini", "ollama", "stub".
	LLMProvider string

	// OpenAIKey is the API key for the OpenAI service.
	OpenAIKey string

	// OpenAIModel is the model identifier for OpenAI completions.
	OpenAIModel string

	// OpenAIBaseURL points the OpenAI client at a compatible service.
	OpenAIBaseURL string

	// AnthropicKey is the API key for the Anthropic Claude service.
	AnthropicKey string

	// AnthropicModel is the model identifier for Claude completions.
	AnthropicModel string

	// GeminiKey is the API key for the Google Gemini service.
	GeminiKey string

	// GeminiModel is the model identifier for Gemini completions.
	GeminiModel string

	// OllamaURL is the base URL for the local Ollama server.
	OllamaURL string

	// OllamaModel is the model identifier for Ollama completions.
	OllamaModel string

	// HTTPTimeout is the timeout for outgoing HTTP requests (extract, LLM, publish).
	HTTPTimeout time.Duration

	// MaxRewriteAttempts is the generation retry budget; each pair gets this many retries.
	MaxRewriteAttempts int

	// CreativeTemperature is the sampling temperature of the first attempt.
	CreativeTemperature float64

	// RefineTemperature is the sampling temperature of retries and rewrites.
	RefineTemperature float64

	// MaxTokens caps each completion.
	MaxTokens int

	// GenerationConcurrency bounds concurrent pair generations in a batch.
	GenerationConcurrency int

	// SchedulerEnabled starts the publish dispatcher with the server.
	SchedulerEnabled bool

	// SchedulerInterval is the poll interval of the publish dispatcher.
	SchedulerInterval time.Duration

	// SchedulerMaxConcurrent caps the posts claimed per cycle.
	SchedulerMaxConcurrent int

	// SchedulerRetryDelay pushes a failed post's schedule forward by this much.
	SchedulerRetryDelay time.Duration

	// LinkedInAPIURL is the LinkedIn REST base URL.
	LinkedInAPIURL string

	// SubstackAPIURL is the Substack API base URL.
	SubstackAPIURL string

	// TelegramBotToken enables operator notifications when set with TelegramChatID.
	TelegramBotToken string

	// TelegramChatID is the chat that receives notifications.
	TelegramChatID int64

	// BrandRulesPath overrides the embedded brand rules.
	BrandRulesPath string

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string
}

// envFiles are read in order; earlier files and the real environment win.
var envFiles = []string{".env.local", ".env"}

// Load reads configuration from environment variables, applying defaults.
// Values from .env.local and .env fill in variables the environment leaves unset.
func Load() (Config, error) {
	for _, f := range envFiles {
		if err := loadEnvFile(f); err != nil {
			return Config{}, err
		}
	}
	return Config{
		Port:                   envOr("PORT", "8080"),
		DBPath:                 envOr("DB_PATH", "softpost.db"),
		LogLevel:               envOr("LOG_LEVEL", "info"),
		LLMProvider:            strings.ToLower(envOr("LLM_PROVIDER", ProviderOpenAI)),
		OpenAIKey:              os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:            envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:          os.Getenv("OPENAI_BASE_URL"),
		AnthropicKey:           os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:         envOr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiKey:              os.Getenv("GEMINI_API_KEY"),
		GeminiModel:            envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		OllamaURL:              envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:            envOr("OLLAMA_MODEL", "llama3"),
		HTTPTimeout:            envDuration("HTTP_TIMEOUT", 60*time.Second),
		MaxRewriteAttempts:     envInt("MAX_REWRITE_ATTEMPTS", 2),
		CreativeTemperature:    envFloat("CREATIVE_TEMPERATURE", 0.8),
		RefineTemperature:      envFloat("REFINE_TEMPERATURE", 0.4),
		MaxTokens:              envInt("MAX_TOKENS", 4096),
		GenerationConcurrency:  envInt("GENERATION_CONCURRENCY", 2),
		SchedulerEnabled:       envBool("SCHEDULER_ENABLED", true),
		SchedulerInterval:      envDuration("SCHEDULER_INTERVAL", 60*time.Second),
		SchedulerMaxConcurrent: envInt("SCHEDULER_MAX_CONCURRENT", 3),
		SchedulerRetryDelay:    envDuration("SCHEDULER_RETRY_DELAY", 5*time.Minute),
		LinkedInAPIURL:         envOr("LINKEDIN_API_URL", "https://api.linkedin.com"),
		SubstackAPIURL:         envOr("SUBSTACK_API_URL", "https://substack.com/api/v1"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:         int64(envInt("TELEGRAM_CHAT_ID", 0)),
		BrandRulesPath:         os.Getenv("BRAND_RULES_PATH"),
		CORSOrigin:             envOr("CORS_ORIGIN", "*"),
	}, nil
}

// loadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// UseStubs returns true when no LLM API key is configured for the selected provider.
func (c Config) UseStubs() bool {
	switch c.LLMProvider {
	case ProviderStub:
		return true
	case ProviderClaude:
		return c.AnthropicKey == ""
	case ProviderGemini:
		return c.GeminiKey == ""
	case ProviderOllama:
		return false // Ollama runs locally, no key needed
	default:
		return c.OpenAIKey == ""
	}
}

// NotificationsEnabled reports whether Telegram notifications are configured.
func (c Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
