package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/api"
	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/config"
	"github.com/ashureev/vade/internal/live"
	"github.com/ashureev/vade/internal/metrics"
	"github.com/ashureev/vade/internal/middleware"
	"github.com/ashureev/vade/internal/playground"
	"github.com/ashureev/vade/internal/store"
	"github.com/ashureev/vade/internal/watch"
	"github.com/ashureev/vade/web"
)

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := slog.Default()
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Assistant.Provider)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		WorkspaceID:   cfg.WorkspaceID,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	session, err := assistant.New(parent, assistant.Config{
		Provider:    cfg.Assistant.Provider,
		Model:       cfg.Assistant.Model,
		APIKey:      cfg.Assistant.APIKey,
		BaseURL:     cfg.Assistant.BaseURL,
		MaxTokens:   cfg.Assistant.MaxTokens,
		FixturePath: cfg.Assistant.FixturePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize assistant: %w", err)
	}

	m := metrics.New()
	pg := playground.New(playground.Options{
		WorkspaceID:     cfg.WorkspaceID,
		PreviewDebounce: cfg.PreviewDebounce,
		SaveDebounce:    cfg.SaveDebounce,
		Repo:            repo,
		Metrics:         m,
		ConversationLog: conversationLogger,
		Logger:          logger,
	})
	if err := pg.Init(parent, session); err != nil {
		return fmt.Errorf("initialize playground: %w", err)
	}
	slog.Info("Playground ready", "workspace_id", cfg.WorkspaceID)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var syncer *watch.Syncer
	if cfg.SyncDir != "" {
		syncer, err = watch.New(cfg.SyncDir, pg.Store(), cfg.PreviewDebounce, logger)
		if err != nil {
			return fmt.Errorf("initialize folder sync: %w", err)
		}
		if err := syncer.Start(ctx); err != nil {
			return fmt.Errorf("start folder sync: %w", err)
		}
	}

	// Initialize handlers.
	chatHandler := agent.NewHandler(pg.Loop(), agent.HandlerConfig{
		RequestsPerWindow:  cfg.RateLimit.RequestsPerWindow,
		Window:             cfg.RateLimit.Window,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})
	defer chatHandler.Close()

	// The live channel starts turns too, so it shares the chat budget.
	hub := live.NewHub(pg, m, live.HubConfig{
		AllowedOrigin: cfg.FrontendOrigin(),
		IsDevelopment: cfg.IsDevelopment(),
		ReadLimit:     cfg.MaxRequestBodySize,
		Limiter:       chatHandler.Limiter(),
	}, logger)
	baseHandler := api.NewHandler(pg, cfg.MaxRequestBodySize)
	workspaceHandler := api.NewWorkspaceHandler(baseHandler, cfg.GitExportDir)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	workspaceHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())

	// WebSocket endpoint.
	r.Get("/ws", hub.ServeHTTP)

	// Serve embedded host page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: the chat handler may hold a request open until the turn ends
	// (?wait=true), so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	store.StartRetentionWorker(ctx, repo, cfg.TurnRetention)
	slog.Info("Retention worker started", "turn_retention", cfg.TurnRetention)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if syncer != nil {
		if err := syncer.Stop(); err != nil {
			slog.Warn("Failed to stop folder sync", "error", err)
		}
	}
	if err := pg.Close(shutdownCtx); err != nil {
		slog.Error("Failed to save workspace", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
