package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"
)

type geminiSession struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *slog.Logger

	mu      sync.Mutex
	history []*genai.Content
}

func newGeminiSession(ctx context.Context, cfg Config, logger *slog.Logger) (*geminiSession, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &geminiSession{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    geminiSchema(),
			MaxOutputTokens:   int32(cfg.MaxTokens),
		},
		logger: logger,
	}, nil
}

func (s *geminiSession) SendTurn(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	start := time.Now()
	res, err := s.client.Models.GenerateContent(ctx, s.model, contents, s.config)
	if err != nil {
		return "", NewTransportError(ProviderGemini, fmt.Errorf("gemini generate content: %w", err))
	}

	text := res.Text()
	if text == "" {
		return "", NewTransportError(ProviderGemini, errors.New("gemini returned empty text"))
	}

	s.logger.Debug("assistant turn completed",
		"provider", ProviderGemini,
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"history", len(contents))

	s.history = append(contents, genai.NewContentFromText(text, genai.RoleModel))
	return text, nil
}
