// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/vade/internal/domain"
)

// Repository persists the playground workspace and its turn log.
type Repository interface {
	// GetWorkspace retrieves a workspace by ID. It returns nil, nil when the
	// workspace does not exist.
	GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error)

	// SaveWorkspace creates or replaces a workspace snapshot.
	SaveWorkspace(ctx context.Context, ws *domain.Workspace) error

	// RecordTurn appends a finished turn to the turn log.
	RecordTurn(ctx context.Context, workspaceID string, rec domain.TurnRecord) error

	// ListTurns returns the most recent turns, newest first.
	ListTurns(ctx context.Context, workspaceID string, limit int) ([]domain.TurnRecord, error)

	// PruneTurns removes turns that finished longer than maxAge ago.
	PruneTurns(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
