// ABOUTME: Polling watcher backend for network mounts that emit no change events.
// ABOUTME: Diffs periodic directory snapshots and reports new paths as create events.

package watch

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher emits create events by diffing snapshots of the watched
// trees. Moves within a tree surface as creates at the new path, which is
// what downstream artifact generation needs.
type PollingWatcher struct {
	mu       sync.Mutex
	config   Config
	interval time.Duration
	roots    []string
	seen     map[string]struct{}
	primed   bool
	events   chan Event
	errs     chan error
	closeCh  chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewPolling creates and starts a polling watcher with the given scan
// interval.
func NewPolling(interval time.Duration, cfg Config) *PollingWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	w := &PollingWatcher{
		config:   cfg,
		interval: interval,
		seen:     make(map[string]struct{}),
		events:   make(chan Event, bufSize),
		errs:     make(chan error, 16),
		closeCh:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.pollLoop()
	return w
}

// Add registers a root to scan. The first scan primes the snapshot without
// emitting events.
func (w *PollingWatcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	w.roots = append(w.roots, path)
	w.primed = false
	return nil
}

// Events returns the event channel.
func (w *PollingWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *PollingWatcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher and joins its goroutine.
func (w *PollingWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)
	close(w.errs)
	return nil
}

func (w *PollingWatcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan()
	for {
		select {
		case <-w.closeCh:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *PollingWatcher) scan() {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	primed := w.primed
	exclude := w.config.Exclude
	w.mu.Unlock()

	current := make(map[string]struct{})
	for _, root := range roots {
		filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != root && excluded(p, exclude) {
					return filepath.SkipDir
				}
				return nil
			}
			if excluded(p, exclude) {
				return nil
			}
			current[p] = struct{}{}
			return nil
		})
	}

	w.mu.Lock()
	prev := w.seen
	w.seen = current
	w.primed = true
	w.mu.Unlock()

	if !primed {
		return
	}

	for p := range current {
		if _, ok := prev[p]; ok {
			continue
		}
		select {
		case w.events <- Event{Path: p, Op: OpCreate, Time: time.Now()}:
		default:
		}
	}
}

var _ Watcher = (*PollingWatcher)(nil)
