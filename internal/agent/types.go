// Package agent runs the conversation turns that turn user requests into
// code changes.
package agent

import (
	"errors"
	"time"

	"github.com/ashureev/vade/internal/domain"
)

// Rejections returned by Loop.Start. None of them touches the transcript.
var (
	ErrEmptyInput   = errors.New("message is required")
	ErrTurnInFlight = errors.New("a request is already in progress")
	ErrNoSession    = errors.New("assistant session is not initialized")
)

// Transcript texts written into the model placeholder.
const (
	FallbackExplanation = "Done."
	InvalidResponseText = "Received an invalid response from the AI."
	FallbackErrorText   = "Sorry, I encountered an error. Please try again."
)

// State is the reconciliation loop state.
type State string

const (
	// StateIdle means a new turn may start.
	StateIdle State = "idle"
	// StateAwaitingResponse means a turn is in flight.
	StateAwaitingResponse State = "awaiting_response"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse describes an accepted turn.
type ChatResponse struct {
	TurnID        string              `json:"turnId"`
	UserMessageID string              `json:"userMessageId"`
	PlaceholderID string              `json:"placeholderId"`
	Outcome       domain.TurnOutcome  `json:"outcome,omitempty"`
	Reply         *domain.ChatMessage `json:"reply,omitempty"`
	Updated       []domain.Language   `json:"updated,omitempty"`
	DurationMs    int64               `json:"durationMs,omitempty"`
}

// Turn is a started reconciliation turn.
type Turn struct {
	ID            string
	UserMessageID string
	PlaceholderID string
	Prompt        string
	StartedAt     time.Time

	done   chan struct{}
	record domain.TurnRecord
}

// Done is closed once the turn has finished and the loop is idle again.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn finishes and returns its record.
func (t *Turn) Wait() domain.TurnRecord {
	<-t.done
	return t.record
}
