package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAISession struct {
	client    openai.Client
	model     string
	maxTokens int64
	format    openai.ChatCompletionNewParamsResponseFormatUnion
	logger    *slog.Logger

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

func newOpenAISession(cfg Config, logger *slog.Logger) *openAISession {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	// Strict mode requires every property to be required, which "updates" is not.
	schema := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "code_reply",
		Description: openai.String("Code updates plus a conversational explanation"),
		Schema:      ResponseSchema(),
		Strict:      openai.Bool(false),
	}

	return &openAISession{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		format: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schema},
		},
		logger:  logger,
		history: []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemInstruction)},
	}
}

func (s *openAISession) SendTurn(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:               s.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(s.maxTokens),
		ResponseFormat:      s.format,
	}

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", NewTransportError(ProviderOpenAI, fmt.Errorf("openai chat: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", NewTransportError(ProviderOpenAI, errors.New("openai returned no choices"))
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", NewTransportError(ProviderOpenAI, errors.New("openai returned empty text"))
	}

	s.logger.Debug("assistant turn completed",
		"provider", ProviderOpenAI,
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	s.history = append(messages, openai.AssistantMessage(text))
	return text, nil
}
