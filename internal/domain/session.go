package domain

import (
	"time"
)

// TurnOutcome is the terminal state of a reconciliation turn.
type TurnOutcome string

const (
	// TurnApplied means the reply was decoded and its updates were applied.
	TurnApplied TurnOutcome = "applied"
	// TurnContractViolation means the reply did not match the response contract.
	TurnContractViolation TurnOutcome = "contract_violation"
	// TurnTransportFailure means the assistant round-trip failed.
	TurnTransportFailure TurnOutcome = "transport_failure"
)

// TurnRecord summarizes one finished turn.
type TurnRecord struct {
	ID         string      `json:"id"`
	UserText   string      `json:"userText"`
	ReplyText  string      `json:"replyText"`
	Outcome    TurnOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	Updated    []Language  `json:"updated,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// Duration returns how long the turn took.
func (t TurnRecord) Duration() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}

// Workspace is the persisted state of the playground.
type Workspace struct {
	ID        string
	Buffers   Buffers
	Messages  []ChatMessage
	Pristine  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
