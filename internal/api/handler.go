// Package api provides HTTP handlers for the VADE playground API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/inlineedit"
	"github.com/ashureev/vade/internal/playground"
)

// Handler provides common handler utilities.
type Handler struct {
	pg      *playground.Playground
	maxBody int64
}

// NewHandler creates a new Handler over the playground.
func NewHandler(pg *playground.Playground, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{pg: pg, maxBody: maxBody}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// turnStatus maps a turn start error to an HTTP status.
func turnStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyInput), errors.Is(err, inlineedit.ErrEmptyInstruction):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrTurnInFlight), errors.Is(err, inlineedit.ErrNoElement):
		return http.StatusConflict
	case errors.Is(err, agent.ErrNoSession):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
