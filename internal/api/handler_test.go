//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/playground"
	"github.com/ashureev/vade/internal/preview"
	"github.com/ashureev/vade/internal/store"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusConflict, "busy")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"busy"}`, w.Body.String())
}

type testServer struct {
	pg     *playground.Playground
	router chi.Router
}

func newTestServer(t *testing.T, session assistant.Session, gitDir string) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "vade.db"))
	require.NoError(t, err)

	pg := playground.New(playground.Options{
		Repo:            repo,
		PreviewDebounce: 5 * time.Millisecond,
		SaveDebounce:    5 * time.Millisecond,
	})
	require.NoError(t, pg.Init(context.Background(), session))
	t.Cleanup(func() {
		_ = pg.Close(context.Background())
		_ = repo.Close()
	})

	r := chi.NewRouter()
	base := NewHandler(pg, 1024)
	NewWorkspaceHandler(base, gitDir).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)
	chat := agent.NewHandler(pg.Loop(), agent.HandlerConfig{})
	t.Cleanup(chat.Close)
	chat.RegisterRoutes(r)
	return &testServer{pg: pg, router: r}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestGetWorkspace(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	w := s.do(http.MethodGet, "/api/workspace", "")
	require.Equal(t, http.StatusOK, w.Code)

	var state playground.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, domain.DefaultBuffers(), state.Buffers)
	assert.Empty(t, state.Messages)
	assert.True(t, state.Pristine)
	assert.Nil(t, state.InlineEdit)
}

func TestPutCode(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	w := s.do(http.MethodPut, "/api/code/JavaScript", `{"content":"let x = 1;"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "let x = 1;", s.pg.Buffers().JavaScript)

	w = s.do(http.MethodPut, "/api/code/CSS", `{"content":""}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "", s.pg.Buffers().CSS)

	w = s.do(http.MethodPut, "/api/code/javascript", `{"content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/code/HTML", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/code/HTML", `{"content":"`+strings.Repeat("a", 2048)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDebugCode(t *testing.T) {
	sess := assistant.NewScripted()
	sess.EnqueueFix("```css\nh1 { color: red; }\n```")
	s := newTestServer(t, sess, "")
	s.pg.Store().Set(domain.CSS, "h1 { color: red")

	w := s.do(http.MethodPost, "/api/code/CSS/debug", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp debugResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, debugResponse{Language: domain.CSS, Changed: true, Content: "h1 { color: red; }"}, resp)
	assert.Equal(t, "h1 { color: red; }", s.pg.Buffers().CSS)
	assert.Empty(t, s.pg.Snapshot().Messages)

	w = s.do(http.MethodPost, "/api/code/python/debug", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDebugCodeBlankBuffer(t *testing.T) {
	sess := assistant.NewScripted()
	s := newTestServer(t, sess, "")
	s.pg.Store().Set(domain.JavaScript, "   ")

	w := s.do(http.MethodPost, "/api/code/JavaScript/debug", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"language":"JavaScript","changed":false,"content":"   "}`, w.Body.String())
	assert.Empty(t, sess.FixRequests())
}

type sessionOnly struct{ assistant.Session }

func TestDebugCodeWithoutFixer(t *testing.T) {
	s := newTestServer(t, sessionOnly{assistant.NewScripted()}, "")

	w := s.do(http.MethodPost, "/api/code/HTML/debug", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestChatThroughRouter(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(`{"updates":[{"language":"CSS","content":"h1{color:red}"}],"explanation":"Done, heading is now red."}`), "")

	w := s.do(http.MethodPost, "/api/chat?wait=true", `{"message":"make the heading red"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp agent.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.TurnApplied, resp.Outcome)
	require.NotNil(t, resp.Reply)
	assert.Equal(t, "Done, heading is now red.", resp.Reply.Text)
	assert.Equal(t, "h1{color:red}", s.pg.Buffers().CSS)

	s.pg.Loop().Wait()
	w = s.do(http.MethodGet, "/api/turns", "")
	require.Equal(t, http.StatusOK, w.Code)
	var turns []domain.TurnRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &turns))
	require.Len(t, turns, 1)
	assert.Equal(t, resp.TurnID, turns[0].ID)

	w = s.do(http.MethodGet, "/api/turns?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInlineEditEndpoints(t *testing.T) {
	session := assistant.NewScripted(`{"explanation":"Made it blue."}`)
	s := newTestServer(t, session, "")

	w := s.do(http.MethodPost, "/api/inline-edit", `{"instruction":"make it blue"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	envelope, err := preview.EncodeElementClick(domain.ClickedElementInfo{TagName: "BUTTON", ID: "go", ClassName: "btn primary", InnerText: "Submit Now"})
	require.NoError(t, err)
	w = s.do(http.MethodPost, "/api/preview/message", string(envelope))
	require.Equal(t, http.StatusOK, w.Code)
	var relayed struct {
		InlineEdit *playground.InlineEdit `json:"inlineEdit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &relayed))
	require.NotNil(t, relayed.InlineEdit)
	assert.Equal(t, "<button#go.btn.primary> 'Submit Now'", relayed.InlineEdit.Label)

	w = s.do(http.MethodPost, "/api/inline-edit", `{"instruction":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotNil(t, s.pg.InlineEdit())

	w = s.do(http.MethodPost, "/api/inline-edit", `{"instruction":"make it blue"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	s.pg.Loop().Wait()
	assert.Nil(t, s.pg.InlineEdit())

	prompts := session.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Tag: <BUTTON>")
}

func TestCancelInlineEdit(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	envelope, err := preview.EncodeElementClick(domain.ClickedElementInfo{TagName: "DIV"})
	require.NoError(t, err)
	s.do(http.MethodPost, "/api/preview/message", string(envelope))
	require.NotNil(t, s.pg.InlineEdit())

	w := s.do(http.MethodDelete, "/api/inline-edit", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, s.pg.InlineEdit())
}

func TestPreviewMessageIgnoresUnknownType(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	w := s.do(http.MethodPost, "/api/preview/message", `{"type":"RESIZE","data":{}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, s.pg.InlineEdit())

	w = s.do(http.MethodPost, "/api/preview/message", `{"type":"VADE_ELEMENT_CLICK","data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewDocument(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")
	require.NoError(t, s.pg.SetCode(domain.HTML, "<section>now</section>"))

	w := s.do(http.MethodGet, "/preview", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sandbox allow-scripts", w.Header().Get("Content-Security-Policy"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<section>now</section>")
	assert.Contains(t, w.Body.String(), preview.ElementClickType)
}

func TestGetContract(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	w := s.do(http.MethodGet, "/api/contract", "")
	require.Equal(t, http.StatusOK, w.Code)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "updates")
	assert.Contains(t, props, "explanation")
}

func TestExportZip(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	w := s.do(http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vade-export.zip")

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"index.html", "style.css", "script.js"}, names)
}

func TestExportGit(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")
	w := s.do(http.MethodPost, "/api/export/git", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	s = newTestServer(t, assistant.NewScripted(), filepath.Join(t.TempDir(), "site"))
	w = s.do(http.MethodPost, "/api/export/git", `{"message":"snapshot"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"committed":true`)

	w = s.do(http.MethodPost, "/api/export/git", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"committed":false`)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, assistant.NewScripted(), "")

	w := s.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}
