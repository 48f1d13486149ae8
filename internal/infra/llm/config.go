// Package llm adapts chat providers to ports.LLMClient.
package llm

import (
	"fmt"
	"strings"
	"time"

	"warden/internal/domain/ports"
	wardenerrors "warden/internal/shared/errors"
	"warden/internal/shared/logging"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Headers    map[string]string
	Logger     logging.Logger

	// RetryBaseDelay overrides the first backoff delay.
	RetryBaseDelay time.Duration
}

// NewClient builds the client for cfg.Provider. The mock provider echoes a
// finish action and exists for dry runs.
func NewClient(cfg Config) (ports.LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI, "openrouter", "deepseek":
		return NewOpenAIClient(cfg)
	case ProviderOllama:
		return NewOllamaClient(cfg)
	case ProviderMock:
		return NewScriptedClient(`{"actions": [{"type": "finish", "summary": "Dry run: no changes made."}]}`), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func retryConfig(c Config) wardenerrors.RetryConfig {
	cfg := wardenerrors.DefaultRetryConfig()
	if c.MaxRetries > 0 {
		cfg.MaxAttempts = c.MaxRetries
	}
	if c.RetryBaseDelay > 0 {
		cfg.BaseDelay = c.RetryBaseDelay
	}
	return cfg
}

func truncateForLog(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "...(truncated)"
}
