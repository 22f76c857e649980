package playground

import (
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/preview"
)

// EventType names a state change pushed to subscribers.
type EventType string

// Event types published by the playground.
const (
	EventState      EventType = "state"
	EventCode       EventType = "code"
	EventTranscript EventType = "transcript"
	EventTurn       EventType = "turn"
	EventPreview    EventType = "preview"
	EventInlineEdit EventType = "inline_edit"
	EventDebug      EventType = "debug"
)

// Event is one state change.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// State is a full snapshot of the playground.
type State struct {
	WorkspaceID string               `json:"workspaceId"`
	Buffers     domain.Buffers       `json:"buffers"`
	Messages    []domain.ChatMessage `json:"messages"`
	Busy        bool                 `json:"busy"`
	Pristine    bool                 `json:"pristine"`
	Preview     preview.Document     `json:"preview"`
	InlineEdit  *InlineEdit          `json:"inlineEdit"`
}

// InlineEdit describes an open element edit.
type InlineEdit struct {
	Element domain.ClickedElementInfo `json:"element"`
	Label   string                    `json:"label"`
}

// TurnEvent reports the loop acquiring or releasing the in-flight lock.
// Record is set once the turn has finished.
type TurnEvent struct {
	Busy   bool               `json:"busy"`
	Record *domain.TurnRecord `json:"record,omitempty"`
}

// DebugEvent reports a buffer fix starting and finishing. Changed and
// Error are only meaningful once Running is false.
type DebugEvent struct {
	Language domain.Language `json:"language"`
	Running  bool            `json:"running"`
	Changed  bool            `json:"changed,omitempty"`
	Error    string          `json:"error,omitempty"`
}
