package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicSession struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    []anthropic.TextBlockParam
	logger    *slog.Logger

	mu      sync.Mutex
	history []anthropic.MessageParam
}

func newAnthropicSession(cfg Config, logger *slog.Logger) *anthropicSession {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicSession{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		system: []anthropic.TextBlockParam{
			{Type: "text", Text: anthropicSystemPrompt()},
		},
		logger: logger,
	}
}

// The messages API has no response schema parameter, so the schema travels
// in the system prompt.
func anthropicSystemPrompt() string {
	schema, err := json.MarshalIndent(ResponseSchema(), "", "  ")
	if err != nil {
		return SystemInstruction
	}
	var sb strings.Builder
	sb.WriteString(SystemInstruction)
	sb.WriteString("\nReply with a single JSON object and nothing else. It must validate against this JSON schema:\n")
	sb.Write(schema)
	return sb.String()
}

func (s *anthropicSession) SendTurn(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]anthropic.MessageParam, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	messages = append(messages, anthropic.MessageParam{
		Role:    anthropic.MessageParamRoleUser,
		Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
	})

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages:  messages,
		System:    s.system,
	}

	start := time.Now()
	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", NewTransportError(ProviderAnthropic, fmt.Errorf("anthropic messages: %w", err))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return "", NewTransportError(ProviderAnthropic, errors.New("anthropic returned empty text"))
	}

	s.logger.Debug("assistant turn completed",
		"provider", ProviderAnthropic,
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	s.history = append(messages, anthropic.MessageParam{
		Role:    anthropic.MessageParamRoleAssistant,
		Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)},
	})
	return text, nil
}
