package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/inlineedit"
	"github.com/ashureev/vade/internal/playground"
)

const writeTimeout = 10 * time.Second

// Client message types.
const (
	msgSetCode          = "set_code"
	msgDebug            = "debug"
	msgChat             = "chat"
	msgPreviewMessage   = "preview_message"
	msgInlineEditSubmit = "inline_edit_submit"
	msgInlineEditCancel = "inline_edit_cancel"
	msgPing             = "ping"
)

// Server-only event types.
const (
	eventPong  playground.EventType = "pong"
	eventError playground.EventType = "error"
)

// clientMessage is a frame sent by the host page.
type clientMessage struct {
	Type        string          `json:"type"`
	Language    string          `json:"language,omitempty"`
	Content     string          `json:"content,omitempty"`
	Message     string          `json:"message,omitempty"`
	Instruction string          `json:"instruction,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}

	ws.SetReadLimit(h.readLimit)

	c := newClient(ws, agent.ClientIdentity(r))
	defer c.close("session ended")

	h.register(c)
	defer h.unregister(c)

	// Events queued between register and this snapshot are older than it.
	if err := h.sendEvent(c, playground.Event{Type: playground.EventState, Data: h.backend.Snapshot()}); err != nil {
		h.logger.Debug("Failed to queue state", "client_id", c.id, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, c)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, c)
	}()

	wg.Wait()
	h.logger.Info("Live session ended", "client_id", c.id)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "client_id", c.id)
			} else {
				h.logger.Warn("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(c, "bad_message", "message is not valid JSON")
			continue
		}
		h.dispatch(ctx, c, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, msg clientMessage) {
	switch msg.Type {
	case msgSetCode:
		if err := h.backend.SetCode(domain.Language(msg.Language), msg.Content); err != nil {
			h.sendError(c, "unknown_language", err.Error())
		}
	case msgDebug:
		// A fix is a model round-trip; keep reading while it runs.
		go func() {
			if _, err := h.backend.Debug(ctx, domain.Language(msg.Language)); err != nil {
				h.sendError(c, errorCode(err), err.Error())
			}
		}()
	case msgChat:
		if !h.allow(c) {
			return
		}
		if _, err := h.backend.Chat(ctx, msg.Message); err != nil {
			h.sendError(c, errorCode(err), err.Error())
		}
	case msgPreviewMessage:
		if err := h.backend.HandlePreviewMessage(msg.Data); err != nil {
			h.logger.Debug("Rejected preview message", "client_id", c.id, "error", err)
		}
	case msgInlineEditSubmit:
		if !h.allow(c) {
			return
		}
		if _, err := h.backend.SubmitInlineEdit(ctx, msg.Instruction); err != nil {
			h.sendError(c, errorCode(err), err.Error())
		}
	case msgInlineEditCancel:
		h.backend.CancelInlineEdit()
	case msgPing:
		if err := h.sendEvent(c, playground.Event{Type: eventPong}); err != nil {
			h.logger.Debug("Failed to send pong", "error", err)
		}
	default:
		h.sendError(c, "unknown_type", fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (h *Hub) allow(c *client) bool {
	if h.limiter == nil {
		return true
	}
	ok, retryAfter := h.limiter.Allow(c.identity)
	if !ok {
		h.sendError(c, "rate_limited", fmt.Sprintf("rate limit exceeded, retry in %s", retryAfter.Round(time.Second)))
	}
	return ok
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "client_id", c.id, "error", err)
				}
				return
			}
		}
	}
}

func (h *Hub) sendEvent(c *client, ev playground.Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return errors.New("send buffer full")
	}
	return nil
}

func (h *Hub) sendError(c *client, code, message string) {
	err := h.sendEvent(c, playground.Event{Type: eventError, Data: ErrorData{Code: code, Message: message}})
	if err != nil {
		h.logger.Debug("Failed to send error event", "client_id", c.id, "error", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, agent.ErrEmptyInput), errors.Is(err, inlineedit.ErrEmptyInstruction):
		return "empty_input"
	case errors.Is(err, agent.ErrTurnInFlight):
		return "turn_in_flight"
	case errors.Is(err, agent.ErrNoSession):
		return "no_session"
	case errors.Is(err, inlineedit.ErrNoElement):
		return "no_element"
	case errors.Is(err, playground.ErrUnknownLanguage):
		return "unknown_language"
	case errors.Is(err, playground.ErrNoFixer):
		return "no_fixer"
	case errors.Is(err, playground.ErrFixInFlight):
		return "fix_in_flight"
	case assistant.IsTransport(err):
		return "assistant_unavailable"
	default:
		return "internal"
	}
}
