package preview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/vade/internal/debounce"
	"github.com/ashureev/vade/internal/domain"
)

// DefaultDebounce is the quiet period before a buffer change re-renders.
const DefaultDebounce = 300 * time.Millisecond

// Source supplies buffer snapshots to the renderer.
type Source interface {
	Snapshot() domain.Buffers
}

// Document is a rendered preview.
type Document struct {
	HTML    string    `json:"html"`
	Version uint64    `json:"version"`
	Stale   bool      `json:"stale"`
	At      time.Time `json:"renderedAt"`
}

// Renderer keeps the preview document in sync with the buffers.
// Invalidate marks the current document stale and schedules one render
// after the debounce delay; further invalidations inside the window replace
// the pending render.
type Renderer struct {
	src    Source
	slot   *debounce.Slot
	logger *slog.Logger

	mu      sync.RWMutex
	html    string
	version uint64
	stale   bool
	at      time.Time

	subsMu sync.RWMutex
	subs   []func(Document)
}

// NewRenderer creates a renderer reading from src.
func NewRenderer(src Source, delay time.Duration, logger *slog.Logger) *Renderer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		src:    src,
		slot:   debounce.New(delay),
		logger: logger,
		stale:  true,
	}
}

// Subscribe registers fn to receive every newly rendered document.
func (r *Renderer) Subscribe(fn func(Document)) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subs = append(r.subs, fn)
}

// Invalidate marks the document stale and schedules a render.
func (r *Renderer) Invalidate() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
	r.slot.Schedule(r.render)
}

// Flush cancels any pending render and renders immediately.
func (r *Renderer) Flush() Document {
	r.slot.Cancel()
	r.render()
	return r.Document()
}

// Pending reports whether a render is scheduled.
func (r *Renderer) Pending() bool {
	return r.slot.Pending()
}

// Document returns the latest rendered document.
func (r *Renderer) Document() Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Document{HTML: r.html, Version: r.version, Stale: r.stale, At: r.at}
}

// Close drops any pending render.
func (r *Renderer) Close() {
	r.slot.Cancel()
}

func (r *Renderer) render() {
	html := Compose(r.src.Snapshot())

	r.mu.Lock()
	r.html = html
	r.version++
	r.at = time.Now().UTC()
	// A change that lands while rendering reschedules and sets stale again.
	r.stale = r.slot.Pending()
	doc := Document{HTML: r.html, Version: r.version, Stale: r.stale, At: r.at}
	r.mu.Unlock()

	r.logger.Debug("Preview rendered", "version", doc.Version, "bytes", len(html))

	r.subsMu.RLock()
	subs := make([]func(Document), len(r.subs))
	copy(subs, r.subs)
	r.subsMu.RUnlock()
	for _, fn := range subs {
		fn(doc)
	}
}
