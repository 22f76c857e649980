// Package debounce provides a single-slot delayed task.
//
// A Slot holds at most one pending task. Scheduling a new task cancels the
// pending one and restarts the delay, so a burst of calls collapses into a
// single run after the burst goes quiet.
package debounce

import (
	"sync"
	"time"
)

// Slot runs the most recently scheduled function once its delay elapses.
type Slot struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	gen   uint64
}

// New creates a slot with the given delay.
func New(delay time.Duration) *Slot {
	return &Slot{delay: delay}
}

// Delay returns the configured delay.
func (s *Slot) Delay() time.Duration {
	return s.delay
}

// Schedule replaces any pending task with fn.
func (s *Slot) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		// A timer that fired while a newer Schedule held the lock is stale.
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Pending reports whether a task is waiting to run.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Cancel drops the pending task, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}
