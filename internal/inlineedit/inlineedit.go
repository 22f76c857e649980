// Package inlineedit turns a click in the preview plus a short instruction
// into an ordinary conversation turn carrying an element context block.
package inlineedit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/domain"
)

// InnerTextLimit is how many characters of inner text the label quotes.
const InnerTextLimit = 30

var (
	// ErrNoElement is returned by Submit when no element is captured.
	ErrNoElement = errors.New("no element selected")
	// ErrEmptyInstruction is returned by Submit for a blank instruction.
	ErrEmptyInstruction = errors.New("instruction is required")
)

// Starter begins a conversation turn. *agent.Loop implements it.
type Starter interface {
	Start(ctx context.Context, text, extraContext string) (*agent.Turn, error)
}

// Flow holds the pending element descriptor between a click and the
// instruction that follows it.
type Flow struct {
	loop   Starter
	logger *slog.Logger

	mu      sync.Mutex
	pending *domain.ClickedElementInfo

	listenersMu sync.RWMutex
	listeners   []func(*domain.ClickedElementInfo)
}

// New creates a closed flow.
func New(loop Starter, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{loop: loop, logger: logger}
}

// OnChange registers fn to be called whenever the collection surface opens
// or closes. fn receives nil on close.
func (f *Flow) OnChange(fn func(*domain.ClickedElementInfo)) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Capture opens the collection surface for info, replacing any pending
// descriptor.
func (f *Flow) Capture(info domain.ClickedElementInfo) {
	f.mu.Lock()
	f.pending = &info
	f.mu.Unlock()

	f.logger.Debug("Element captured", "label", Label(info))
	f.notify(&info)
}

// Pending returns the captured descriptor, if any.
func (f *Flow) Pending() (domain.ClickedElementInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return domain.ClickedElementInfo{}, false
	}
	return *f.pending, true
}

// Cancel closes the collection surface without sending anything.
func (f *Flow) Cancel() {
	if f.clear() {
		f.notify(nil)
	}
}

// Submit sends instruction about the captured element as a turn. The
// surface closes whether or not the loop accepts the turn; a blank
// instruction leaves it open.
func (f *Flow) Submit(ctx context.Context, instruction string) (*agent.Turn, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrEmptyInstruction
	}

	f.mu.Lock()
	if f.pending == nil {
		f.mu.Unlock()
		return nil, ErrNoElement
	}
	info := *f.pending
	f.mu.Unlock()

	turn, err := f.loop.Start(ctx, UserMessage(info, instruction), ContextBlock(info))

	if f.clear() {
		f.notify(nil)
	}
	if err != nil {
		f.logger.Info("Inline edit not sent", "label", Label(info), "error", err)
		return nil, err
	}
	return turn, nil
}

func (f *Flow) clear() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.pending != nil
	f.pending = nil
	return was
}

func (f *Flow) notify(info *domain.ClickedElementInfo) {
	f.listenersMu.RLock()
	listeners := make([]func(*domain.ClickedElementInfo), len(f.listeners))
	copy(listeners, f.listeners)
	f.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(info)
	}
}

// Selector renders <tag#id.class1.class2> with a lower-cased tag.
func Selector(info domain.ClickedElementInfo) string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(strings.ToLower(info.TagName))
	if info.ID != "" {
		sb.WriteString("#")
		sb.WriteString(info.ID)
	}
	for _, c := range strings.Fields(info.ClassName) {
		sb.WriteString(".")
		sb.WriteString(c)
	}
	sb.WriteString(">")
	return sb.String()
}

// TextSummary quotes the first InnerTextLimit characters of the inner text,
// ellipsized only when truncated. It is empty when there is no inner text.
func TextSummary(info domain.ClickedElementInfo) string {
	text := strings.TrimSpace(info.InnerText)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > InnerTextLimit {
		return "'" + string(runes[:InnerTextLimit]) + "...'"
	}
	return "'" + text + "'"
}

// Label is the short human-readable description of an element.
func Label(info domain.ClickedElementInfo) string {
	summary := TextSummary(info)
	if summary == "" {
		return Selector(info)
	}
	return Selector(info) + " " + summary
}

// UserMessage is the transcript text for an inline edit.
func UserMessage(info domain.ClickedElementInfo, instruction string) string {
	return fmt.Sprintf("Edited %s: \"%s\"", Label(info), instruction)
}

// ContextBlock describes the clicked element to the model.
func ContextBlock(info domain.ClickedElementInfo) string {
	orNotSpecified := func(s string) string {
		if s == "" {
			return "Not specified"
		}
		return s
	}

	var sb strings.Builder
	sb.WriteString("The user has clicked on an element in the live preview and wants to modify it.\n")
	sb.WriteString("--- CLICKED ELEMENT INFO ---\n")
	sb.WriteString("Tag: <" + info.TagName + ">\n")
	sb.WriteString("ID: " + orNotSpecified(info.ID) + "\n")
	sb.WriteString("Classes: " + orNotSpecified(info.ClassName) + "\n")
	sb.WriteString("Inner Text (first 30 chars): " + orNotSpecified(TextSummary(info)) + "\n")
	sb.WriteString("--- END OF ELEMENT INFO ---\n")
	return sb.String()
}
