package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"

	"github.com/ashureev/vade/internal/domain"
)

// Fixer repairs one buffer in a single stateless request. It shares the
// provider client with the conversational session but never its history.
// Every session returned by New implements it.
type Fixer interface {
	// Fix returns a corrected version of code. Failures are *TransportError.
	Fix(ctx context.Context, lang domain.Language, code string) (string, error)
}

// FixInstruction returns the system instruction for fixing code written
// in lang.
func FixInstruction(lang domain.Language) string {
	return fmt.Sprintf("You are an expert code debugging assistant. Analyze the provided %s code snippet, identify any errors, bugs, or logic issues, and provide a corrected version. "+
		"Your response must contain ONLY the fixed code, without any additional explanations, comments, or markdown formatting (like ```%s). "+
		"The goal is to produce clean, ready-to-use code that can directly replace the original.",
		lang, strings.ToLower(string(lang)))
}

// StripFences removes a markdown code fence wrapped around the whole of
// text. Anything else is returned unchanged.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	body := strings.TrimSuffix(trimmed, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return text
	}
	return strings.TrimSpace(body[nl+1:])
}

func (s *geminiSession) Fix(ctx context.Context, lang domain.Language, code string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(FixInstruction(lang), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   s.config.MaxOutputTokens,
	}

	start := time.Now()
	res, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(code), config)
	if err != nil {
		return "", NewTransportError(ProviderGemini, fmt.Errorf("gemini fix: %w", err))
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", NewTransportError(ProviderGemini, errors.New("gemini returned an empty fix"))
	}

	s.logger.Debug("assistant fix completed",
		"provider", ProviderGemini,
		"language", lang,
		"duration_ms", time.Since(start).Milliseconds())
	return StripFences(text), nil
}

func (s *openAISession) Fix(ctx context.Context, lang domain.Language, code string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(FixInstruction(lang)),
			openai.UserMessage(code),
		},
		MaxCompletionTokens: openai.Int(s.maxTokens),
		Temperature:         openai.Float(0),
	}

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", NewTransportError(ProviderOpenAI, fmt.Errorf("openai fix: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", NewTransportError(ProviderOpenAI, errors.New("openai returned an empty fix"))
	}

	s.logger.Debug("assistant fix completed",
		"provider", ProviderOpenAI,
		"language", lang,
		"duration_ms", time.Since(start).Milliseconds(),
		"completion_tokens", resp.Usage.CompletionTokens)
	return StripFences(resp.Choices[0].Message.Content), nil
}

func (s *anthropicSession) Fix(ctx context.Context, lang domain.Language, code string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		MaxTokens:   s.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Type: "text", Text: FixInstruction(lang)}},
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(code)},
		}},
	}

	start := time.Now()
	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", NewTransportError(ProviderAnthropic, fmt.Errorf("anthropic fix: %w", err))
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", NewTransportError(ProviderAnthropic, errors.New("anthropic returned an empty fix"))
	}

	s.logger.Debug("assistant fix completed",
		"provider", ProviderAnthropic,
		"language", lang,
		"duration_ms", time.Since(start).Milliseconds(),
		"output_tokens", resp.Usage.OutputTokens)
	return StripFences(sb.String()), nil
}
