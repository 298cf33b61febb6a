package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tracker watches a project root and records which files were recently
// modified, with per-path debouncing. The session controller consults it
// when a file-edit event carries no inline content and the files have to
// be captured from disk instead.
type Tracker struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	done     chan struct{}
	started  bool
	closed   bool
	mu       sync.Mutex

	debouncer  map[string]*time.Timer
	debounceMu sync.Mutex

	recent   map[string]time.Time // relative path -> last modification
	recentMu sync.Mutex
}

// New creates a Tracker for the given project root. Subdirectories are
// added as they are created; the root itself is watched immediately.
func New(root string, debounce time.Duration) (*Tracker, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	return &Tracker{
		root:      root,
		debounce:  debounce,
		watcher:   w,
		done:      make(chan struct{}),
		debouncer: make(map[string]*time.Timer),
		recent:    make(map[string]time.Time),
	}, nil
}

// AddPath adds an additional directory to watch
func (t *Tracker) AddPath(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("tracker is closed")
	}
	return t.watcher.Add(path)
}

// Start begins tracking modifications
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("tracker is closed")
	}
	if t.started {
		return fmt.Errorf("tracker already started")
	}
	t.started = true

	go t.watch()
	return nil
}

// Close stops tracking and cleans up resources
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.started {
		close(t.done)
	}

	t.debounceMu.Lock()
	for _, timer := range t.debouncer {
		timer.Stop()
	}
	t.debouncer = make(map[string]*time.Timer)
	t.debounceMu.Unlock()

	return t.watcher.Close()
}

// ModifiedSince returns the relative paths modified at or after the cutoff
func (t *Tracker) ModifiedSince(cutoff time.Time) []string {
	t.recentMu.Lock()
	defer t.recentMu.Unlock()

	var paths []string
	for path, at := range t.recent {
		if !at.Before(cutoff) {
			paths = append(paths, path)
		}
	}
	return paths
}

// Drain returns all recorded paths and clears the record
func (t *Tracker) Drain() []string {
	t.recentMu.Lock()
	defer t.recentMu.Unlock()

	paths := make([]string, 0, len(t.recent))
	for path := range t.recent {
		paths = append(paths, path)
	}
	t.recent = make(map[string]time.Time)
	return paths
}

// watch is the main event loop
func (t *Tracker) watch() {
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			log.Printf("[Watcher] %v", err)

		case <-t.done:
			return
		}
	}
}

// handleEvent records writes and creates, with per-path debouncing
func (t *Tracker) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// New directories join the watch set so edits below them are seen
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			t.mu.Lock()
			if !t.closed {
				t.watcher.Add(event.Name)
			}
			t.mu.Unlock()
			return
		}
	}

	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	t.debounceMu.Lock()
	defer t.debounceMu.Unlock()

	if timer, exists := t.debouncer[rel]; exists {
		timer.Stop()
	}
	t.debouncer[rel] = time.AfterFunc(t.debounce, func() {
		t.debounceMu.Lock()
		delete(t.debouncer, rel)
		t.debounceMu.Unlock()

		t.recentMu.Lock()
		t.recent[rel] = time.Now()
		t.recentMu.Unlock()
	})
}
