// Package playground owns the application state: the code store, the
// transcript, the reconciliation loop, the preview renderer and the element
// edit flow. Everything is created and wired by New.
package playground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/debounce"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/inlineedit"
	"github.com/ashureev/vade/internal/metrics"
	"github.com/ashureev/vade/internal/preview"
	"github.com/ashureev/vade/internal/store"
	"github.com/ashureev/vade/internal/workspace"
)

// DefaultSaveDebounce is how long state must be quiet before it is saved.
const DefaultSaveDebounce = time.Second

const persistTimeout = 5 * time.Second

var (
	// ErrUnknownLanguage is returned for a language outside the three
	// buffers.
	ErrUnknownLanguage = errors.New("unknown language")

	// ErrNoFixer is returned by Debug when the session cannot fix buffers.
	ErrNoFixer = errors.New("assistant cannot fix code")

	// ErrFixInFlight is returned by Debug while another fix is running.
	ErrFixInFlight = errors.New("a fix is already running")
)

// Options configures a Playground. Repo, Metrics and ConversationLog are
// optional.
type Options struct {
	WorkspaceID     string
	PreviewDebounce time.Duration
	SaveDebounce    time.Duration
	Repo            store.Repository
	Metrics         *metrics.Metrics
	ConversationLog agent.ConversationLogger
	Logger          *slog.Logger
}

// Playground is the application state owner.
type Playground struct {
	id        string
	createdAt time.Time
	logger    *slog.Logger
	repo      store.Repository
	metrics   *metrics.Metrics

	store      *workspace.Store
	transcript *workspace.Transcript
	loop       *agent.Loop
	renderer   *preview.Renderer
	inline     *inlineedit.Flow
	saveSlot   *debounce.Slot
	persist    sync.WaitGroup

	fixer  assistant.Fixer
	fixing atomic.Bool

	subsMu  sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates the playground with the default buffers and an empty
// transcript. Call Init before serving.
func New(opts Options) *Playground {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WorkspaceID == "" {
		opts.WorkspaceID = "default"
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}

	p := &Playground{
		id:         opts.WorkspaceID,
		createdAt:  time.Now().UTC(),
		logger:     logger,
		repo:       opts.Repo,
		metrics:    opts.Metrics,
		store:      workspace.NewStore(domain.DefaultBuffers()),
		transcript: workspace.NewTranscript(),
		saveSlot:   debounce.New(opts.SaveDebounce),
		subs:       make(map[int]func(Event)),
	}
	p.loop = agent.NewLoop(p.store, p.transcript, opts.ConversationLog, logger)
	p.renderer = preview.NewRenderer(p.store, opts.PreviewDebounce, logger)
	p.inline = inlineedit.New(p.loop, logger)

	p.wire()
	return p
}

func (p *Playground) wire() {
	p.store.OnChange(func(lang domain.Language) {
		p.renderer.Invalidate()
		p.publish(Event{Type: EventCode, Data: domain.CodeUpdate{Language: lang, Content: p.store.Get(lang)}})
		p.scheduleSave()
	})
	p.transcript.OnChange(func(msg domain.ChatMessage) {
		p.publish(Event{Type: EventTranscript, Data: msg})
		p.scheduleSave()
	})
	p.renderer.Subscribe(func(doc preview.Document) {
		if p.metrics != nil {
			p.metrics.PreviewRendered(len(doc.HTML))
		}
		p.publish(Event{Type: EventPreview, Data: doc})
	})
	p.inline.OnChange(func(info *domain.ClickedElementInfo) {
		p.publish(Event{Type: EventInlineEdit, Data: inlineEditState(info)})
	})

	if p.metrics != nil {
		p.loop.AddObserver(p.metrics)
	}
	p.loop.AddObserver(agent.ObserverFuncs{
		OnBusy: func(busy bool) {
			if busy {
				p.publish(Event{Type: EventTurn, Data: TurnEvent{Busy: true}})
			}
		},
		OnFinish: func(ctx context.Context, rec domain.TurnRecord) {
			p.publish(Event{Type: EventTurn, Data: TurnEvent{Busy: false, Record: &rec}})
			if p.repo != nil {
				p.persist.Add(1)
				go func() {
					defer p.persist.Done()
					p.recordTurn(ctx, rec)
				}()
			}
		},
	})
}

// Init restores persisted state, installs the assistant session and renders
// the first preview document.
func (p *Playground) Init(ctx context.Context, session assistant.Session) error {
	if p.repo != nil {
		ws, err := p.repo.GetWorkspace(ctx, p.id)
		if err != nil {
			return fmt.Errorf("load workspace: %w", err)
		}
		if ws != nil {
			p.restore(ws)
		}
	}
	p.loop.SetSession(session)
	if f, ok := session.(assistant.Fixer); ok {
		p.fixer = f
	}
	p.renderer.Flush()
	return nil
}

func (p *Playground) restore(ws *domain.Workspace) {
	// A model message left empty was still awaiting a reply when the
	// process stopped.
	msgs := make([]domain.ChatMessage, len(ws.Messages))
	for i, m := range ws.Messages {
		if m.Role == domain.RoleModel && m.Text == "" {
			m.Text = agent.FallbackErrorText
		}
		msgs[i] = m
	}
	p.createdAt = ws.CreatedAt
	p.transcript.Restore(msgs)
	p.store.Restore(ws.Buffers)
	p.loop.SetPristine(ws.Pristine)
	p.logger.Info("Workspace restored", "workspace_id", p.id, "messages", len(msgs))
}

// Subscribe registers fn for every published event and returns a function
// that removes it. fn runs on the goroutine that made the change and must
// not block.
func (p *Playground) Subscribe(fn func(Event)) func() {
	p.subsMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subsMu.Unlock()

	return func() {
		p.subsMu.Lock()
		delete(p.subs, id)
		p.subsMu.Unlock()
	}
}

func (p *Playground) publish(ev Event) {
	p.subsMu.RLock()
	subs := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subsMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// WorkspaceID returns the persisted workspace identifier.
func (p *Playground) WorkspaceID() string {
	return p.id
}

// Loop returns the reconciliation loop.
func (p *Playground) Loop() *agent.Loop {
	return p.loop
}

// Store returns the code store. Writes through it behave like SetCode.
func (p *Playground) Store() *workspace.Store {
	return p.store
}

// Snapshot returns the full current state.
func (p *Playground) Snapshot() State {
	var edit *InlineEdit
	if info, ok := p.inline.Pending(); ok {
		edit = inlineEditState(&info)
	}
	return State{
		WorkspaceID: p.id,
		Buffers:     p.store.Snapshot(),
		Messages:    p.transcript.Messages(),
		Busy:        p.loop.Busy(),
		Pristine:    p.loop.Pristine(),
		Preview:     p.renderer.Document(),
		InlineEdit:  edit,
	}
}

// Buffers returns a copy of the three code buffers.
func (p *Playground) Buffers() domain.Buffers {
	return p.store.Snapshot()
}

// SetCode overwrites one buffer, as the editor does on every keystroke.
func (p *Playground) SetCode(lang domain.Language, text string) error {
	if !lang.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	p.store.Set(lang, text)
	return nil
}

// Chat submits a free-form request as a turn.
func (p *Playground) Chat(ctx context.Context, text string) (*agent.Turn, error) {
	return p.loop.Start(ctx, text, "")
}

// Debug asks the assistant to fix one buffer and overwrites the buffer with
// the result. A blank buffer is left alone and reports false. The call
// is outside the conversation: the transcript and the in-flight lock are
// untouched.
func (p *Playground) Debug(ctx context.Context, lang domain.Language) (bool, error) {
	if !lang.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	if p.fixer == nil {
		return false, ErrNoFixer
	}
	code := p.store.Get(lang)
	if strings.TrimSpace(code) == "" {
		return false, nil
	}
	if !p.fixing.CompareAndSwap(false, true) {
		return false, ErrFixInFlight
	}
	defer p.fixing.Store(false)

	p.publish(Event{Type: EventDebug, Data: DebugEvent{Language: lang, Running: true}})
	start := time.Now()
	fixed, err := p.fixer.Fix(ctx, lang, code)
	if err == nil && strings.TrimSpace(fixed) == "" {
		err = assistant.NewTransportError("", errors.New("assistant returned no code"))
	}
	if err != nil {
		p.countFix(lang, "failed")
		p.logger.Warn("Buffer fix failed", "language", lang, "error", err)
		p.publish(Event{Type: EventDebug, Data: DebugEvent{Language: lang, Error: err.Error()}})
		return false, err
	}

	changed := fixed != code
	if changed {
		p.store.Set(lang, fixed)
		p.countFix(lang, "fixed")
	} else {
		p.countFix(lang, "unchanged")
	}
	p.logger.Info("Buffer fixed",
		"language", lang,
		"changed", changed,
		"duration_ms", time.Since(start).Milliseconds())
	p.publish(Event{Type: EventDebug, Data: DebugEvent{Language: lang, Changed: changed}})
	return changed, nil
}

func (p *Playground) countFix(lang domain.Language, result string) {
	if p.metrics != nil {
		p.metrics.Fixes.WithLabelValues(string(lang), result).Inc()
	}
}

// HandlePreviewMessage relays an envelope received from the preview
// document. Unknown message types are ignored.
func (p *Playground) HandlePreviewMessage(raw []byte) error {
	msg, err := preview.DecodeMessage(raw)
	if errors.Is(err, preview.ErrUnknownMessage) {
		p.logger.Debug("Ignoring preview message", "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case preview.ElementClick:
		if p.metrics != nil {
			p.metrics.ElementClicks.Inc()
		}
		p.inline.Capture(m.Info)
	}
	return nil
}

// SubmitInlineEdit sends instruction about the captured element.
func (p *Playground) SubmitInlineEdit(ctx context.Context, instruction string) (*agent.Turn, error) {
	return p.inline.Submit(ctx, instruction)
}

// CancelInlineEdit closes the element edit without sending anything.
func (p *Playground) CancelInlineEdit() {
	p.inline.Cancel()
}

// InlineEdit returns the open element edit, or nil.
func (p *Playground) InlineEdit() *InlineEdit {
	info, ok := p.inline.Pending()
	if !ok {
		return nil
	}
	return inlineEditState(&info)
}

// Preview returns the current preview document, rendering first if a
// change is still waiting out the debounce delay.
func (p *Playground) Preview() preview.Document {
	doc := p.renderer.Document()
	if doc.Stale {
		return p.renderer.Flush()
	}
	return doc
}

// Turns returns the most recent finished turns, newest first.
func (p *Playground) Turns(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if p.repo == nil {
		return nil, nil
	}
	return p.repo.ListTurns(ctx, p.id, limit)
}

// Close waits for the running turn and its turn log write, drops pending
// renders and saves the workspace one last time. If ctx ends first the
// workspace is still saved, with the running turn's placeholder in it.
func (p *Playground) Close(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		p.loop.Wait()
		p.persist.Wait()
		close(idle)
	}()

	var waitErr error
	select {
	case <-idle:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for running turn: %w", ctx.Err())
		p.logger.Warn("Closing with a turn still in flight", "workspace_id", p.id)
	}

	p.renderer.Close()
	p.saveSlot.Cancel()

	if waitErr == nil {
		return p.save(ctx)
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return errors.Join(waitErr, p.save(saveCtx))
}

func (p *Playground) scheduleSave() {
	if p.repo == nil {
		return
	}
	p.saveSlot.Schedule(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := p.save(ctx); err != nil {
			p.logger.Error("Failed to save workspace", "workspace_id", p.id, "error", err)
		}
	})
}

func (p *Playground) save(ctx context.Context) error {
	if p.repo == nil {
		return nil
	}
	return p.repo.SaveWorkspace(ctx, &domain.Workspace{
		ID:        p.id,
		Buffers:   p.store.Snapshot(),
		Messages:  p.transcript.Messages(),
		Pristine:  p.loop.Pristine(),
		CreatedAt: p.createdAt,
		UpdatedAt: time.Now().UTC(),
	})
}

func (p *Playground) recordTurn(ctx context.Context, rec domain.TurnRecord) {
	if p.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := p.repo.RecordTurn(ctx, p.id, rec); err != nil {
		p.logger.Error("Failed to record turn", "turn_id", rec.ID, "error", err)
	}
}

func inlineEditState(info *domain.ClickedElementInfo) *InlineEdit {
	if info == nil {
		return nil
	}
	return &InlineEdit{Element: *info, Label: inlineedit.Label(*info)}
}
