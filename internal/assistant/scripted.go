package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ashureev/vade/internal/domain"
)

// Scripted is an offline session. It replays queued replies in order and,
// once they run out, answers with a plain explanation echoing the request.
type Scripted struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	fixes   []string
	fixed   []string
}

// NewScripted creates a scripted session that will return replies in order.
func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

// LoadScripted reads a JSON array of reply strings from path.
func LoadScripted(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var replies []string
	if err := json.Unmarshal(data, &replies); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return NewScripted(replies...), nil
}

// Enqueue appends replies to the script.
func (s *Scripted) Enqueue(replies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Prompts returns every prompt received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// SendTurn implements Session.
func (s *Scripted) SendTurn(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewTransportError(ProviderScripted, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)

	if len(s.replies) > 0 {
		reply := s.replies[0]
		s.replies = s.replies[1:]
		return reply, nil
	}

	data, err := json.Marshal(Reply{
		Explanation: fmt.Sprintf("Scripted assistant received: %q", requestText(prompt)),
	})
	if err != nil {
		return "", NewTransportError(ProviderScripted, err)
	}
	return string(data), nil
}

// EnqueueFix appends results for Fix to return in order. With none queued,
// Fix returns the code unchanged.
func (s *Scripted) EnqueueFix(fixes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes = append(s.fixes, fixes...)
}

// FixRequests returns the code of every Fix call so far.
func (s *Scripted) FixRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.fixed))
	copy(out, s.fixed)
	return out
}

// Fix implements Fixer.
func (s *Scripted) Fix(ctx context.Context, _ domain.Language, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewTransportError(ProviderScripted, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed = append(s.fixed, code)

	if len(s.fixes) == 0 {
		return code, nil
	}
	fix := s.fixes[0]
	s.fixes = s.fixes[1:]
	return StripFences(fix), nil
}

func requestText(prompt string) string {
	const marker = "User Request: "
	idx := strings.LastIndex(prompt, marker)
	if idx < 0 {
		return prompt
	}
	return strings.Trim(prompt[idx+len(marker):], `"`)
}
