package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/metrics"
	"github.com/ashureev/vade/internal/playground"
	"github.com/ashureev/vade/internal/preview"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type harness struct {
	pg      *playground.Playground
	hub     *Hub
	metrics *metrics.Metrics
	server  *httptest.Server
}

func newHarness(t *testing.T, session assistant.Session) *harness {
	t.Helper()
	return newHarnessWithConfig(t, session, HubConfig{IsDevelopment: true})
}

func newHarnessWithConfig(t *testing.T, session assistant.Session, cfg HubConfig) *harness {
	t.Helper()
	pg := playground.New(playground.Options{PreviewDebounce: 5 * time.Millisecond})
	require.NoError(t, pg.Init(context.Background(), session))

	m := metrics.New()
	hub := NewHub(pg, m, cfg, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		_ = pg.Close(context.Background())
	})
	return &harness{pg: pg, hub: hub, metrics: m, server: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return h.dialPath(t, "")
}

func (h *harness) dialPath(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	// Events echo whole buffers and preview documents back.
	conn.SetReadLimit(8 << 20)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// readUntil returns the first frame of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == typ {
			return f
		}
	}
}

func TestStateOnConnect(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)

	f := readUntil(t, conn, "state")
	var state playground.State
	require.NoError(t, json.Unmarshal(f.Data, &state))
	assert.Equal(t, domain.DefaultBuffers(), state.Buffers)
	assert.True(t, state.Pristine)
	assert.False(t, state.Busy)

	require.Eventually(t, func() bool { return h.hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.LiveClients))
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "ping"})
	readUntil(t, conn, "pong")
}

func TestSetCodeBroadcasts(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	editor := h.dial(t)
	viewer := h.dial(t)
	readUntil(t, editor, "state")
	readUntil(t, viewer, "state")

	send(t, editor, map[string]string{"type": "set_code", "language": "CSS", "content": "p{margin:0}"})

	f := readUntil(t, viewer, "code")
	var update domain.CodeUpdate
	require.NoError(t, json.Unmarshal(f.Data, &update))
	assert.Equal(t, domain.CodeUpdate{Language: domain.CSS, Content: "p{margin:0}"}, update)
	assert.Equal(t, "p{margin:0}", h.pg.Buffers().CSS)

	f = readUntil(t, viewer, "preview")
	var doc preview.Document
	require.NoError(t, json.Unmarshal(f.Data, &doc))
	assert.Contains(t, doc.HTML, "p{margin:0}")
}

func TestSetCodeUnknownLanguage(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "set_code", "language": "python", "content": "x"})

	f := readUntil(t, conn, "error")
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "unknown_language", e.Code)
}

func TestChatRunsTurn(t *testing.T) {
	h := newHarness(t, assistant.NewScripted(`{"updates":[{"language":"HTML","content":"<h1>Hi</h1>"}],"explanation":"Added a heading."}`))
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "chat", "message": "add a heading"})

	for {
		f := readUntil(t, conn, "turn")
		var ev playground.TurnEvent
		require.NoError(t, json.Unmarshal(f.Data, &ev))
		if ev.Record == nil {
			assert.True(t, ev.Busy)
			continue
		}
		assert.False(t, ev.Busy)
		assert.Equal(t, domain.TurnApplied, ev.Record.Outcome)
		break
	}
	assert.Equal(t, "<h1>Hi</h1>", h.pg.Buffers().HTML)
}

func TestChatEmptyMessage(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "chat", "message": "   "})

	f := readUntil(t, conn, "error")
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "empty_input", e.Code)
}

func TestPreviewMessageOpensInlineEdit(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	envelope, err := preview.EncodeElementClick(domain.ClickedElementInfo{TagName: "P", InnerText: "hello"})
	require.NoError(t, err)
	send(t, conn, map[string]any{"type": "preview_message", "data": json.RawMessage(envelope)})

	f := readUntil(t, conn, "inline_edit")
	var edit playground.InlineEdit
	require.NoError(t, json.Unmarshal(f.Data, &edit))
	assert.Equal(t, "<p> 'hello'", edit.Label)

	send(t, conn, map[string]string{"type": "inline_edit_cancel"})
	f = readUntil(t, conn, "inline_edit")
	assert.Equal(t, "null", string(f.Data))
}

func TestInlineEditSubmitWithoutElement(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "inline_edit_submit", "instruction": "make it blue"})

	f := readUntil(t, conn, "error")
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "no_element", e.Code)
}

func TestUnknownMessageType(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "resize"})
	f := readUntil(t, conn, "error")
	assert.Contains(t, string(f.Data), "unknown_type")
}

func TestCheckOrigin(t *testing.T) {
	hub := &Hub{allowedOrigin: "https://vade.example", logger: slog.Default()}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://vade.example")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(req))

	hub.isDev = true
	assert.True(t, hub.checkOrigin(req))
}

func TestLargeSetCodeWithinReadLimit(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	html := "<p>" + strings.Repeat("a", 40<<10) + "</p>"
	send(t, conn, map[string]string{"type": "set_code", "language": "HTML", "content": html})

	f := readUntil(t, conn, "code")
	var update domain.CodeUpdate
	require.NoError(t, json.Unmarshal(f.Data, &update))
	assert.Len(t, update.Content, len(html))
	assert.Equal(t, html, h.pg.Buffers().HTML)
	assert.Equal(t, 1, h.hub.Count())
}

func TestLargePreviewMessageWithinReadLimit(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	text := strings.Repeat("page text ", 5<<10)
	envelope, err := preview.EncodeElementClick(domain.ClickedElementInfo{TagName: "BODY", InnerText: text})
	require.NoError(t, err)
	require.Greater(t, len(envelope), 32<<10)
	send(t, conn, map[string]any{"type": "preview_message", "data": json.RawMessage(envelope)})

	f := readUntil(t, conn, "inline_edit")
	var edit playground.InlineEdit
	require.NoError(t, json.Unmarshal(f.Data, &edit))
	assert.Equal(t, text, edit.Element.InnerText)
	assert.Equal(t, 1, h.hub.Count())
}

func TestFrameOverReadLimitClosesConnection(t *testing.T) {
	h := newHarnessWithConfig(t, assistant.NewScripted(), HubConfig{IsDevelopment: true, ReadLimit: 1 << 10})
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "set_code", "language": "CSS", "content": strings.Repeat("x", 2<<10)})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
			break
		}
	}
	assert.NotEqual(t, strings.Repeat("x", 2<<10), h.pg.Buffers().CSS)
}

func TestDebugFixesBuffer(t *testing.T) {
	sess := assistant.NewScripted()
	sess.EnqueueFix("```css\np { margin: 0; }\n```")
	h := newHarness(t, sess)
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "debug", "language": "CSS"})

	for {
		f := readUntil(t, conn, "debug")
		var ev playground.DebugEvent
		require.NoError(t, json.Unmarshal(f.Data, &ev))
		if ev.Running {
			continue
		}
		assert.True(t, ev.Changed)
		assert.Empty(t, ev.Error)
		break
	}
	assert.Equal(t, "p { margin: 0; }", h.pg.Buffers().CSS)
}

func TestDebugUnknownLanguage(t *testing.T) {
	h := newHarness(t, assistant.NewScripted())
	conn := h.dial(t)
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "debug", "language": "python"})

	f := readUntil(t, conn, "error")
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "unknown_language", e.Code)
}

type countingLimiter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
}

func (l *countingLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key]++
	return l.seen[key] <= l.limit, time.Minute
}

func TestChatRateLimitedPerClient(t *testing.T) {
	limiter := &countingLimiter{limit: 1, seen: map[string]int{}}
	h := newHarnessWithConfig(t, assistant.NewScripted(), HubConfig{IsDevelopment: true, Limiter: limiter})
	conn := h.dialPath(t, "?client=tab-1")
	readUntil(t, conn, "state")

	send(t, conn, map[string]string{"type": "chat", "message": "one"})
	for {
		f := readUntil(t, conn, "turn")
		var ev playground.TurnEvent
		require.NoError(t, json.Unmarshal(f.Data, &ev))
		if ev.Record != nil {
			break
		}
	}

	send(t, conn, map[string]string{"type": "chat", "message": "two"})
	f := readUntil(t, conn, "error")
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "rate_limited", e.Code)
	limiter.mu.Lock()
	assert.Equal(t, map[string]int{"127.0.0.1/tab-1": 2}, limiter.seen)
	limiter.mu.Unlock()
	assert.Len(t, h.pg.Snapshot().Messages, 2)
}
