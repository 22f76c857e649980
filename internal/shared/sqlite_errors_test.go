package shared

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSQLiteConflictError(t *testing.T) {
	assert.False(t, IsSQLiteConflictError(nil))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table")))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsSQLiteConflictError(fmt.Errorf("upsert: %w", errors.New("database is locked"))))
	assert.True(t, IsSQLiteBusyError(errors.New("SQLITE_BUSY")))
	assert.False(t, IsSQLiteLockedError(errors.New("SQLITE_BUSY")))
}

func TestIsSQLiteUniqueViolation(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE turns (id TEXT PRIMARY KEY, slug TEXT UNIQUE, body TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO turns (id, slug, body) VALUES ('t1', 's1', 'x')`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO turns (id, slug, body) VALUES ('t1', 's2', 'x')`)
	require.Error(t, err)
	assert.True(t, IsSQLiteUniqueViolation(err), "primary key")
	assert.True(t, IsSQLiteUniqueViolation(fmt.Errorf("insert turn: %w", err)), "wrapped")

	_, err = db.ExecContext(ctx, `INSERT INTO turns (id, slug, body) VALUES ('t2', 's1', 'x')`)
	require.Error(t, err)
	assert.True(t, IsSQLiteUniqueViolation(err), "unique column")

	_, err = db.ExecContext(ctx, `INSERT INTO turns (id, slug, body) VALUES ('t3', 's3', NULL)`)
	require.Error(t, err)
	assert.False(t, IsSQLiteUniqueViolation(err), "not null")

	assert.False(t, IsSQLiteUniqueViolation(nil))
	assert.False(t, IsSQLiteUniqueViolation(errors.New("UNIQUE constraint failed: turns.id")))
}
