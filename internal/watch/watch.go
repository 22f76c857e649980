// Package watch mirrors the code buffers to a folder on disk and imports
// edits made to those files by external editors.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ashureev/vade/internal/debounce"
	"github.com/ashureev/vade/internal/domain"
)

// DefaultDelay is the quiet period before a burst of changes is processed.
const DefaultDelay = 250 * time.Millisecond

// FileNames maps each buffer to the file that mirrors it.
var FileNames = map[domain.Language]string{
	domain.HTML:       "markup.html",
	domain.CSS:        "style.css",
	domain.JavaScript: "script.js",
}

// Buffers is the part of the code store the folder sync needs.
type Buffers interface {
	Snapshot() domain.Buffers
	Set(lang domain.Language, text string)
	OnChange(fn func(domain.Language))
}

// Syncer keeps a folder and the code store in step.
type Syncer struct {
	dir     string
	buffers Buffers
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mirror *debounce.Slot
	ingest *debounce.Slot

	pendingMu sync.Mutex
	pending   map[domain.Language]struct{}

	// last content written to or read from disk per buffer
	knownMu sync.Mutex
	known   map[domain.Language]string

	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

// New creates a syncer for dir. Call Start to begin watching.
func New(dir string, buffers Buffers, delay time.Duration, logger *slog.Logger) (*Syncer, error) {
	if dir == "" {
		return nil, errors.New("watch: directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Syncer{
		dir:     dir,
		buffers: buffers,
		logger:  logger,
		watcher: fsw,
		mirror:  debounce.New(delay),
		ingest:  debounce.New(delay),
		pending: make(map[domain.Language]struct{}),
		known:   make(map[domain.Language]string),
		done:    make(chan struct{}),
	}, nil
}

// Start writes the current buffers to disk, then watches the folder until
// ctx is done or Stop is called.
func (s *Syncer) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sync dir: %w", err)
	}
	if err := s.writeAll(); err != nil {
		return err
	}
	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	s.buffers.OnChange(func(domain.Language) {
		if s.stopped.Load() {
			return
		}
		s.mirror.Schedule(func() {
			if err := s.writeAll(); err != nil {
				s.logger.Warn("Failed to mirror buffers", "dir", s.dir, "error", err)
			}
		})
	})

	s.started.Store(true)
	go s.processEvents(ctx)

	s.logger.Info("Folder sync started", "dir", s.dir, "debounce", s.ingest.Delay())
	return nil
}

// Stop closes the watcher and drops pending work.
func (s *Syncer) Stop() error {
	s.stopped.Store(true)
	s.mirror.Cancel()
	s.ingest.Cancel()
	err := s.watcher.Close()
	if s.started.Load() {
		<-s.done
	}
	return err
}

// Dir returns the synced folder.
func (s *Syncer) Dir() string {
	return s.dir
}

func (s *Syncer) processEvents(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Watcher error", "error", err)
		}
	}
}

func (s *Syncer) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	lang, ok := languageFor(filepath.Base(event.Name))
	if !ok {
		return
	}

	s.pendingMu.Lock()
	s.pending[lang] = struct{}{}
	s.pendingMu.Unlock()

	s.ingest.Schedule(s.flushPending)
}

// flushPending imports every changed file whose content differs from what
// the syncer last saw.
func (s *Syncer) flushPending() {
	s.pendingMu.Lock()
	langs := make([]domain.Language, 0, len(s.pending))
	for lang := range s.pending {
		langs = append(langs, lang)
	}
	s.pending = make(map[domain.Language]struct{})
	s.pendingMu.Unlock()

	for _, lang := range langs {
		path := filepath.Join(s.dir, FileNames[lang])
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read synced file", "path", path, "error", err)
			continue
		}
		text := string(data)
		if !s.remember(lang, text) {
			continue
		}
		s.logger.Info("Imported buffer from disk", "language", lang, "bytes", len(data))
		s.buffers.Set(lang, text)
	}
}

func (s *Syncer) writeAll() error {
	snap := s.buffers.Snapshot()
	for _, lang := range domain.Languages {
		text := snap.Get(lang)
		if !s.remember(lang, text) {
			continue
		}
		path := filepath.Join(s.dir, FileNames[lang])
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// remember records text as the known content of lang and reports whether
// it changed.
func (s *Syncer) remember(lang domain.Language, text string) bool {
	s.knownMu.Lock()
	defer s.knownMu.Unlock()
	if prev, ok := s.known[lang]; ok && prev == text {
		return false
	}
	s.known[lang] = text
	return true
}

func languageFor(name string) (domain.Language, bool) {
	for lang, file := range FileNames {
		if file == name {
			return lang, true
		}
	}
	return "", false
}
