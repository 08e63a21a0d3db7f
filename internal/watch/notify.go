// ABOUTME: Native OS-notification watcher backend built on fsnotify.
// ABOUTME: Watches directories recursively and auto-watches directories created later.

package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NotifyWatcher emits create/move events from OS change notifications.
// Use the polling backend for network mounts that do not deliver them.
type NotifyWatcher struct {
	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	config  Config
	events  chan Event
	errs    chan error
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewNotify creates and starts a native watcher.
func NewNotify(cfg Config) (*NotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		if isWatchLimit(err) {
			return nil, ErrWatchLimit
		}
		return nil, err
	}

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	w := &NotifyWatcher{
		fsw:     fsw,
		config:  cfg,
		events:  make(chan Event, bufSize),
		errs:    make(chan error, 16),
		closeCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// Add watches a directory tree recursively. Watch-limit exhaustion is
// reported as ErrWatchLimit.
func (w *NotifyWatcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && excluded(p, w.config.Exclude) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			if isWatchLimit(err) {
				return ErrWatchLimit
			}
			return err
		}
		return nil
	})
}

// Events returns the event channel.
func (w *NotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *NotifyWatcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher and joins its goroutine.
func (w *NotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errs)
	return err
}

func (w *NotifyWatcher) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(fsEvent)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *NotifyWatcher) handle(fsEvent fsnotify.Event) {
	var op Op
	switch {
	case fsEvent.Op.Has(fsnotify.Create):
		op = OpCreate
	case fsEvent.Op.Has(fsnotify.Rename):
		op = OpMove
	default:
		return
	}

	if excluded(fsEvent.Name, w.config.Exclude) {
		return
	}

	// A directory created under a watched tree joins the watch set.
	if op == OpCreate {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(fsEvent.Name); err != nil && isWatchLimit(err) {
				w.sendError(ErrWatchLimit)
			}
			return
		}
	}

	select {
	case w.events <- Event{Path: fsEvent.Name, Op: op, Time: time.Now()}:
	default:
		w.sendError(errors.New("event channel full, dropping event"))
	}
}

func (w *NotifyWatcher) sendError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// isWatchLimit detects inotify-exhausted and EMFILE conditions.
func isWatchLimit(err error) bool {
	if err == nil {
		return false
	}
	var errno interface{ Error() string } = err
	msg := errno.Error()
	return strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "no space left on device") ||
		strings.Contains(msg, "inotify")
}

var _ Watcher = (*NotifyWatcher)(nil)
