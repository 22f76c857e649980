package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks messages typed by the user.
	RoleUser Role = "user"
	// RoleModel marks messages produced by the assistant.
	RoleModel Role = "model"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChatMessage creates a message with a fresh role-prefixed ID.
func NewChatMessage(role Role, text string) ChatMessage {
	return ChatMessage{
		ID:        string(role) + "-" + uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}
