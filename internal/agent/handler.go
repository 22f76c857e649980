package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig tunes the chat endpoint.
type HandlerConfig struct {
	RequestsPerWindow  int
	Window             time.Duration
	MaxRequestBodySize int64
}

// Handler serves the chat endpoint on top of a Loop.
type Handler struct {
	loop        *Loop
	rateLimiter *RateLimiter
	maxBody     int64
}

// NewHandler creates a chat handler.
func NewHandler(loop *Loop, cfg HandlerConfig) *Handler {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		loop:        loop,
		rateLimiter: NewRateLimiter(cfg.RequestsPerWindow, cfg.Window),
		maxBody:     cfg.MaxRequestBodySize,
	}
}

// Limiter returns the limiter guarding turn starts, for other channels
// that start turns.
func (h *Handler) Limiter() *RateLimiter {
	return h.rateLimiter
}

// Close stops the limiter's sweeper.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}

// HandleChat handles POST /api/chat. The turn is started and the handler
// answers 202 immediately; with ?wait=true it blocks until the turn ends.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if ok, retryAfter := h.rateLimiter.Allow(ClientIdentity(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := h.loop.Start(r.Context(), req.Message, "")
	switch {
	case errors.Is(err, ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrTurnInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("Chat turn accepted",
		"turn_id", turn.ID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message))

	resp := ChatResponse{
		TurnID:        turn.ID,
		UserMessageID: turn.UserMessageID,
		PlaceholderID: turn.PlaceholderID,
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	select {
	case <-turn.Done():
	case <-r.Context().Done():
		return
	}
	rec := turn.Wait()
	resp.Outcome = rec.Outcome
	resp.Updated = rec.Updated
	resp.DurationMs = rec.Duration().Milliseconds()
	if msg, ok := h.loop.transcript.Get(turn.PlaceholderID); ok {
		resp.Reply = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
