package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS workspaces (
		workspace_id TEXT PRIMARY KEY,
		html TEXT NOT NULL,
		css TEXT NOT NULL,
		javascript TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		pristine INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		turn_id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_text TEXT NOT NULL,
		reply_text TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		updated_json TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_workspace ON turns(workspace_id, finished_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetWorkspace retrieves a workspace by ID.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	query := `
		SELECT workspace_id, html, css, javascript, messages_json, pristine, created_at, updated_at
		FROM workspaces WHERE workspace_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var ws domain.Workspace
	var messagesJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&ws.ID, &ws.Buffers.HTML, &ws.Buffers.CSS, &ws.Buffers.JavaScript,
		&messagesJSON, &ws.Pristine, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &ws.Messages); err != nil {
		return nil, fmt.Errorf("decode workspace messages: %w", err)
	}
	ws.CreatedAt = time.Unix(createdAt, 0)
	ws.UpdatedAt = time.Unix(updatedAt, 0)

	return &ws, nil
}

// SaveWorkspace creates or replaces a workspace snapshot.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) SaveWorkspace(ctx context.Context, ws *domain.Workspace) error {
	messages := ws.Messages
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode workspace messages: %w", err)
	}

	createdAt := ws.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return withRetry(ctx, "save workspace", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		query := `
		INSERT INTO workspaces (workspace_id, html, css, javascript, messages_json, pristine, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET
			html = excluded.html,
			css = excluded.css,
			javascript = excluded.javascript,
			messages_json = excluded.messages_json,
			pristine = excluded.pristine,
			updated_at = excluded.updated_at`

		_, err := s.db.ExecContext(ctx, query,
			ws.ID, ws.Buffers.HTML, ws.Buffers.CSS, ws.Buffers.JavaScript,
			string(messagesJSON), ws.Pristine,
			createdAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert workspace: %w", err)
		}
		return nil
	})
}

// RecordTurn appends a finished turn to the turn log. Recording the same
// turn ID twice is a no-op.
func (s *SQLiteStore) RecordTurn(ctx context.Context, workspaceID string, rec domain.TurnRecord) error {
	updated := rec.Updated
	if updated == nil {
		updated = []domain.Language{}
	}
	updatedJSON, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode updated languages: %w", err)
	}

	var errText interface{}
	if rec.Error != "" {
		errText = rec.Error
	}

	return withRetry(ctx, "record turn", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		query := `
		INSERT INTO turns (turn_id, workspace_id, user_text, reply_text, outcome, error, updated_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, workspaceID, rec.UserText, rec.ReplyText, string(rec.Outcome), errText,
			string(updatedJSON), rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		)
		if shared.IsSQLiteUniqueViolation(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
}

// ListTurns returns the most recent turns, newest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, workspaceID string, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT turn_id, user_text, reply_text, outcome, error, updated_json, started_at, finished_at
		FROM turns WHERE workspace_id = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.TurnRecord
	for rows.Next() {
		var rec domain.TurnRecord
		var outcome, updatedJSON string
		var errText sql.NullString
		var startedAt, finishedAt int64

		if err := rows.Scan(
			&rec.ID, &rec.UserText, &rec.ReplyText, &outcome, &errText,
			&updatedJSON, &startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if err := json.Unmarshal([]byte(updatedJSON), &rec.Updated); err != nil {
			return nil, fmt.Errorf("decode updated languages: %w", err)
		}
		rec.Outcome = domain.TurnOutcome(outcome)
		rec.Error = errText.String
		rec.StartedAt = time.UnixMilli(startedAt).UTC()
		rec.FinishedAt = time.UnixMilli(finishedAt).UTC()
		turns = append(turns, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// PruneTurns removes turns that finished longer than maxAge ago.
func (s *SQLiteStore) PruneTurns(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()

	var deleted int64
	err := withRetry(ctx, "prune turns", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE finished_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("prune turns: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// withRetry runs op, retrying SQLite lock conflicts with exponential backoff.
func withRetry(ctx context.Context, name string, op func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}

	if shared.IsSQLiteConflictError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", name, maxRetries, err)
	}
	return err
}
