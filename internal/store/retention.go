package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionWorkerInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically prunes
// turns older than maxAge. A non-positive maxAge disables the worker.
func StartRetentionWorker(ctx context.Context, repo Repository, maxAge time.Duration) {
	startRetentionWorker(ctx, repo, maxAge, retentionWorkerInterval)
}

func startRetentionWorker(ctx context.Context, repo Repository, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				pruneTurns(ctx, repo, maxAge)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneTurns(ctx context.Context, repo Repository, maxAge time.Duration) {
	deleted, err := repo.PruneTurns(ctx, maxAge)
	if err != nil {
		slog.Error("Retention worker failed to prune turns", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker pruned turns", "count", deleted)
	}
}
