package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/export"
	"github.com/ashureev/vade/internal/middleware"
	"github.com/ashureev/vade/internal/playground"
)

const defaultTurnLimit = 20

// WorkspaceHandler serves the playground state, edits and exports.
type WorkspaceHandler struct {
	*Handler
	gitDir string
}

// NewWorkspaceHandler creates the workspace handler. gitDir enables
// POST /api/export/git when set.
func NewWorkspaceHandler(base *Handler, gitDir string) *WorkspaceHandler {
	return &WorkspaceHandler{Handler: base, gitDir: gitDir}
}

// RegisterRoutes registers workspace routes.
func (h *WorkspaceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/workspace", h.GetWorkspace)
	r.Put("/api/code/{language}", h.PutCode)
	r.Post("/api/code/{language}/debug", h.DebugCode)
	r.Post("/api/preview/message", h.PreviewMessage)
	r.Post("/api/inline-edit", h.SubmitInlineEdit)
	r.Delete("/api/inline-edit", h.CancelInlineEdit)
	r.Get("/api/contract", h.GetContract)
	r.Get("/api/turns", h.ListTurns)
	r.Get("/api/export", h.Export)
	r.Post("/api/export/git", h.ExportGit)
	r.With(middleware.SandboxCSP).Get("/preview", h.Preview)
}

// GetWorkspace returns the full playground state.
func (h *WorkspaceHandler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.pg.Snapshot())
}

type codeRequest struct {
	Content *string `json:"content"`
}

// PutCode overwrites one buffer.
func (h *WorkspaceHandler) PutCode(w http.ResponseWriter, r *http.Request) {
	lang, err := domain.ParseLanguage(chi.URLParam(r, "language"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req codeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Content == nil {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := h.pg.SetCode(lang, *req.Content); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type debugResponse struct {
	Language domain.Language `json:"language"`
	Changed  bool            `json:"changed"`
	Content  string          `json:"content"`
}

// DebugCode asks the assistant to fix one buffer and returns the result.
// A blank buffer is returned untouched.
func (h *WorkspaceHandler) DebugCode(w http.ResponseWriter, r *http.Request) {
	lang, err := domain.ParseLanguage(chi.URLParam(r, "language"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	changed, err := h.pg.Debug(r.Context(), lang)
	switch {
	case errors.Is(err, playground.ErrFixInFlight):
		Error(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, playground.ErrNoFixer):
		Error(w, http.StatusNotImplemented, err.Error())
		return
	case assistant.IsTransport(err):
		Error(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, debugResponse{
		Language: lang,
		Changed:  changed,
		Content:  h.pg.Buffers().Get(lang),
	})
}

// PreviewMessage relays a message posted by the preview document.
func (h *WorkspaceHandler) PreviewMessage(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !h.decodeBody(w, r, &raw) {
		return
	}
	if err := h.pg.HandlePreviewMessage(raw); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"inlineEdit": h.pg.InlineEdit()})
}

type inlineEditRequest struct {
	Instruction string `json:"instruction"`
}

// SubmitInlineEdit sends an instruction about the captured element.
func (h *WorkspaceHandler) SubmitInlineEdit(w http.ResponseWriter, r *http.Request) {
	var req inlineEditRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	turn, err := h.pg.SubmitInlineEdit(r.Context(), req.Instruction)
	if err != nil {
		Error(w, turnStatus(err), err.Error())
		return
	}

	slog.Info("Inline edit accepted", "turn_id", turn.ID)
	JSON(w, http.StatusAccepted, agent.ChatResponse{
		TurnID:        turn.ID,
		UserMessageID: turn.UserMessageID,
		PlaceholderID: turn.PlaceholderID,
	})
}

// CancelInlineEdit closes the element edit.
func (h *WorkspaceHandler) CancelInlineEdit(w http.ResponseWriter, r *http.Request) {
	h.pg.CancelInlineEdit()
	w.WriteHeader(http.StatusNoContent)
}

// GetContract returns the JSON schema replies must follow.
func (h *WorkspaceHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, assistant.ResponseSchema())
}

// ListTurns returns recent finished turns.
func (h *WorkspaceHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	limit := defaultTurnLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := h.pg.Turns(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list turns", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	if turns == nil {
		turns = []domain.TurnRecord{}
	}
	JSON(w, http.StatusOK, turns)
}

// Preview serves the composed preview document.
func (h *WorkspaceHandler) Preview(w http.ResponseWriter, r *http.Request) {
	doc := h.pg.Preview()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Preview-Version", strconv.FormatUint(doc.Version, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc.HTML)); err != nil {
		slog.Debug("Failed to write preview", "error", err)
	}
}

// Export streams the buffers as a zip archive.
func (h *WorkspaceHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.ArchiveName+`"`)
	if err := export.WriteZip(w, h.pg.Buffers()); err != nil {
		slog.Error("Failed to write export archive", "error", err)
	}
}

type gitExportRequest struct {
	Message string `json:"message"`
}

// ExportGit commits the buffers to the configured git directory.
func (h *WorkspaceHandler) ExportGit(w http.ResponseWriter, r *http.Request) {
	if h.gitDir == "" {
		Error(w, http.StatusNotFound, "git export is not configured")
		return
	}

	var req gitExportRequest
	if r.ContentLength != 0 && !h.decodeBody(w, r, &req) {
		return
	}

	hash, err := export.CommitToGit(h.gitDir, h.pg.Buffers(), export.CommitOptions{Message: req.Message})
	if errors.Is(err, export.ErrNothingToCommit) {
		JSON(w, http.StatusOK, map[string]any{"committed": false})
		return
	}
	if err != nil {
		slog.Error("Git export failed", "dir", h.gitDir, "error", err)
		Error(w, http.StatusInternalServerError, "git export failed")
		return
	}
	slog.Info("Workspace committed", "dir", h.gitDir, "commit", hash)
	JSON(w, http.StatusOK, map[string]any{"committed": true, "commit": hash})
}
