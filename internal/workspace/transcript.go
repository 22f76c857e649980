package workspace

import (
	"sync"

	"github.com/ashureev/vade/internal/domain"
)

// Transcript is the ordered list of chat messages.
//
// Messages are only ever appended. The single mutation allowed afterwards is
// replacing the text of an existing message, which the reconciliation loop
// uses to fill in its placeholder.
type Transcript struct {
	mu   sync.RWMutex
	msgs []domain.ChatMessage

	listenersMu sync.RWMutex
	listeners   []func(domain.ChatMessage)
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// OnChange registers fn to be called with each appended or updated message.
func (t *Transcript) OnChange(fn func(domain.ChatMessage)) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Append adds a message with a fresh ID and returns it.
func (t *Transcript) Append(role domain.Role, text string) domain.ChatMessage {
	msg := domain.NewChatMessage(role, text)

	t.mu.Lock()
	t.msgs = append(t.msgs, msg)
	t.mu.Unlock()

	t.notify(msg)
	return msg
}

// SetText replaces the text of the message with the given ID.
// It returns false if no such message exists.
func (t *Transcript) SetText(id, text string) bool {
	t.mu.Lock()
	idx := -1
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}
	t.msgs[idx].Text = text
	msg := t.msgs[idx]
	t.mu.Unlock()

	t.notify(msg)
	return true
}

// Get returns the message with the given ID.
func (t *Transcript) Get(id string) (domain.ChatMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return domain.ChatMessage{}, false
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []domain.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ChatMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Restore replaces the transcript contents without notifying listeners.
func (t *Transcript) Restore(msgs []domain.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = make([]domain.ChatMessage, len(msgs))
	copy(t.msgs, msgs)
}

func (t *Transcript) notify(msg domain.ChatMessage) {
	t.listenersMu.RLock()
	listeners := make([]func(domain.ChatMessage), len(t.listeners))
	copy(listeners, t.listeners)
	t.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(msg)
	}
}
