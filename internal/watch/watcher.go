// Package watch re-verifies a spec when the files it references change
// on disk. It watches the directories containing spec-referenced files
// and debounces rapid saves so one editor write burst triggers one
// verification pass.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"goalgate/internal/logging"
	"goalgate/internal/spec"
)

// DriftFunc is invoked with the settled set of changed files.
type DriftFunc func(ctx context.Context, changed []string)

// Watcher monitors spec-referenced files for drift.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	root        string
	relevant    map[string]bool // absolute path -> referenced by spec
	onDrift     DriftFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity for debugging.
type Stats struct {
	FilesCreated    int
	FilesModified   int
	FilesDeleted    int
	PassesTriggered int
	Errors          int
	LastEventTime   time.Time
	LastEventPath   string
	LastEventType   string
}

// New creates a Watcher over the files the spec references: artifact
// paths plus both endpoints of every key link.
func New(root string, s *spec.MustHaveSpec, debounce time.Duration, onDrift DriftFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	relevant := make(map[string]bool)
	for _, a := range s.Artifacts {
		relevant[filepath.Join(root, a.Path)] = true
	}
	for _, l := range s.KeyLinks {
		relevant[filepath.Join(root, l.From)] = true
		relevant[filepath.Join(root, l.To)] = true
	}

	return &Watcher{
		watcher:     fw,
		root:        root,
		relevant:    relevant,
		onDrift:     onDrift,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	// Watch parent directories: fsnotify cannot watch files that do
	// not exist yet, and a missing artifact appearing is exactly the
	// drift we care about.
	dirs := make(map[string]bool)
	for path := range w.relevant {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			logging.Get(logging.CategoryWatch).Warn("watch failed for %s: %v", dir, err)
			continue
		}
		logging.WatchDebug("watching directory: %s", dir)
	}
	logging.Watch("drift watcher started: %d files across %d directories", len(w.relevant), len(dirs))

	go w.run(ctx)

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("drift watcher stopped")
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

// handleEvent records a single filesystem event for later processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Only spec-referenced files matter.
	if !w.relevant[filepath.Clean(event.Name)] {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // Ignore chmod, etc.
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType

	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}

	w.debounceMap[filepath.Clean(event.Name)] = time.Now()
}

// processDebouncedEvents fires the drift callback for events that have
// settled past the debounce window, batched into one call.
func (w *Watcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	if len(settled) > 0 {
		w.stats.PassesTriggered++
	}
	w.mu.Unlock()

	if len(settled) == 0 || w.onDrift == nil {
		return
	}

	logging.Watch("drift detected in %d file(s), re-verifying", len(settled))
	w.onDrift(ctx, settled)
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}
