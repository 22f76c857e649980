// Package workspace holds the mutable playground state: the three code
// buffers and the chat transcript.
package workspace

import (
	"sync"

	"github.com/ashureev/vade/internal/domain"
)

// Store holds the three code buffers.
//
// Set is a total overwrite with no validation. Every Set notifies the change
// listeners after the store lock is released, on the caller's goroutine.
type Store struct {
	mu  sync.RWMutex
	buf domain.Buffers

	listenersMu sync.RWMutex
	listeners   []func(domain.Language)
}

// NewStore creates a store seeded with initial.
func NewStore(initial domain.Buffers) *Store {
	return &Store{buf: initial}
}

// OnChange registers fn to be called after every buffer write.
func (s *Store) OnChange(fn func(domain.Language)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get returns the current text of one buffer.
func (s *Store) Get(lang domain.Language) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.Get(lang)
}

// Snapshot returns a copy of all three buffers.
func (s *Store) Snapshot() domain.Buffers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf
}

// Set overwrites one buffer. Writing the same text again is a no-op for the
// content but still counts as a change.
func (s *Store) Set(lang domain.Language, text string) {
	if !lang.Valid() {
		return
	}
	s.mu.Lock()
	s.buf = s.buf.With(lang, text)
	s.mu.Unlock()

	s.notify(lang)
}

// Apply writes updates in order and returns the languages touched.
// When two updates target the same buffer the later one wins.
func (s *Store) Apply(updates []domain.CodeUpdate) []domain.Language {
	touched := make([]domain.Language, 0, len(updates))
	for _, u := range updates {
		if !u.Language.Valid() {
			continue
		}
		s.Set(u.Language, u.Content)
		touched = append(touched, u.Language)
	}
	return touched
}

// Restore replaces all three buffers, notifying once per buffer.
func (s *Store) Restore(b domain.Buffers) {
	for _, lang := range domain.Languages {
		s.Set(lang, b.Get(lang))
	}
}

func (s *Store) notify(lang domain.Language) {
	s.listenersMu.RLock()
	listeners := make([]func(domain.Language), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(lang)
	}
}
