package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vade/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "data", "vade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestWorkspaceRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetWorkspace(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, got)

	msg := domain.NewChatMessage(domain.RoleUser, "hello")
	ws := &domain.Workspace{
		ID:       "default",
		Buffers:  domain.DefaultBuffers(),
		Messages: []domain.ChatMessage{msg},
		Pristine: false,
	}
	require.NoError(t, repo.SaveWorkspace(ctx, ws))

	got, err = repo.GetWorkspace(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DefaultBuffers(), got.Buffers)
	assert.False(t, got.Pristine)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, msg.ID, got.Messages[0].ID)
	assert.Equal(t, "hello", got.Messages[0].Text)

	ws.Buffers.CSS = ""
	ws.Messages = nil
	require.NoError(t, repo.SaveWorkspace(ctx, ws))

	got, err = repo.GetWorkspace(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "", got.Buffers.CSS)
	assert.Empty(t, got.Messages)
}

func TestTurnLog(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := domain.TurnRecord{
		ID: "t-old", UserText: "a", ReplyText: "Done.", Outcome: domain.TurnApplied,
		Updated: []domain.Language{domain.CSS}, StartedAt: now.Add(-48 * time.Hour), FinishedAt: now.Add(-48 * time.Hour),
	}
	recent := domain.TurnRecord{
		ID: "t-new", UserText: "b", ReplyText: "boom", Outcome: domain.TurnTransportFailure,
		Error: "boom", StartedAt: now.Add(-time.Second), FinishedAt: now,
	}
	require.NoError(t, repo.RecordTurn(ctx, "default", old))
	require.NoError(t, repo.RecordTurn(ctx, "default", recent))
	require.NoError(t, repo.RecordTurn(ctx, "default", recent), "duplicate turn ids are ignored")

	turns, err := repo.ListTurns(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "t-new", turns[0].ID)
	assert.Equal(t, "boom", turns[0].Error)
	assert.Empty(t, turns[0].Updated)
	assert.Equal(t, []domain.Language{domain.CSS}, turns[1].Updated)

	deleted, err := repo.PruneTurns(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	turns, err = repo.ListTurns(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "t-new", turns[0].ID)
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestRetentionWorkerPrunes(t *testing.T) {
	repo := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, repo.RecordTurn(ctx, "default", domain.TurnRecord{
		ID: "t", Outcome: domain.TurnApplied, StartedAt: old, FinishedAt: old,
	}))

	startRetentionWorker(ctx, repo, time.Minute, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		turns, err := repo.ListTurns(context.Background(), "default", 10)
		return err == nil && len(turns) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
