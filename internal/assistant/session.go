// Package assistant talks to the code-editing model.
//
// A Session is a stateful conversation: each successful turn is appended to
// the history the next turn is sent with. Replies are plain strings; callers
// validate them with Decode.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// DefaultMaxTokens caps reply length when Config.MaxTokens is unset.
const DefaultMaxTokens = 8192

// Session is a conversation with the model.
type Session interface {
	// SendTurn sends one prompt and returns the raw reply text.
	// Failures are *TransportError and leave the history unchanged.
	SendTurn(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	FixturePath string
}

// DefaultModel returns the model used when Config.Model is empty.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderScripted:
		return "scripted"
	default:
		return "gemini-2.5-flash"
	}
}

// New creates a session for cfg.Provider. It is called once, at start-up.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGemini
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if provider != ProviderScripted && cfg.APIKey == "" {
		return nil, fmt.Errorf("assistant: %s provider requires an API key", provider)
	}

	logger.Info("Creating assistant session", "provider", provider, "model", cfg.Model)

	switch provider {
	case ProviderGemini:
		return newGeminiSession(ctx, cfg, logger)
	case ProviderOpenAI:
		return newOpenAISession(cfg, logger), nil
	case ProviderAnthropic:
		return newAnthropicSession(cfg, logger), nil
	case ProviderScripted:
		if cfg.FixturePath != "" {
			return LoadScripted(cfg.FixturePath)
		}
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("assistant: unknown provider %q", cfg.Provider)
	}
}
