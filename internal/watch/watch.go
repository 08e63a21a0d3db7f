// ABOUTME: Filesystem watcher contract shared by the native and polling backends.
// ABOUTME: Emits create/move events with recycle-bin and dotfile exclusions applied.

package watch

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Op is the kind of filesystem change a backend emits.
type Op int

const (
	OpCreate Op = iota + 1
	OpMove
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpMove:
		return "move"
	default:
		return "unknown"
	}
}

// Event carries the path of a created or moved file.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// ErrWatcherClosed is returned by Add after Close.
var ErrWatcherClosed = errors.New("watcher closed")

// ErrWatchLimit signals inotify/file-descriptor exhaustion. Callers
// surface RemediationHint through the notifier.
var ErrWatchLimit = errors.New("watch limit reached")

// RemediationHint is the operator-facing fix for ErrWatchLimit.
const RemediationHint = "Raise the inotify limits, e.g.:\n" +
	"echo fs.inotify.max_user_watches=524288 >> /etc/sysctl.conf\n" +
	"echo fs.inotify.max_user_instances=524288 >> /etc/sysctl.conf\n" +
	"sysctl -p"

// Watcher is the emit interface both backends implement. Close joins the
// backend's goroutine before returning.
type Watcher interface {
	Add(path string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Config holds the shared backend settings.
type Config struct {
	// Exclude are user-supplied regexps applied to the full path.
	Exclude []*regexp.Regexp
	// BufferSize is the event channel depth.
	BufferSize int
}

// builtinExcludes are always skipped: NAS recycle bins and metadata dirs.
var builtinExcludes = []string{"@Recycle", "#recycle", "@eaDir"}

// excluded reports whether a path is filtered out, either by the built-in
// recycle/dotfile rules or by a user regexp.
func excluded(path string, userExclude []*regexp.Regexp) bool {
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		if strings.HasPrefix(segment, ".") {
			return true
		}
		for _, pat := range builtinExcludes {
			if segment == pat {
				return true
			}
		}
	}
	for _, re := range userExclude {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// CompileExcludes compiles user exclusion patterns, skipping invalid ones
// and reporting them.
func CompileExcludes(patterns []string) (compiled []*regexp.Regexp, invalid []string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			invalid = append(invalid, p)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, invalid
}
