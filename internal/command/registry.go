// ABOUTME: Chat command registry mapping /tokens to synthesized events.
// ABOUTME: The registry never invokes extension code; it only publishes events.

package command

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/helmsmanhq/helmsman/internal/bus"
)

// Binding maps a chat command token to an event kind. When the host's chat
// front-end sees the token it synthesizes an event of Kind carrying a copy
// of Data plus arg_str, channel, and user.
type Binding struct {
	Cmd      string // starts with '/', lowercase alphanumerics
	Kind     bus.Kind
	Desc     string
	Category string
	Data     map[string]any
}

var cmdPattern = regexp.MustCompile(`^/[a-z0-9]+$`)

// Registry holds the active command bindings keyed by token.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]registered
	bus      *bus.Bus
}

type registered struct {
	owner   string
	binding Binding
}

// NewRegistry creates a registry publishing through the given bus.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		bindings: make(map[string]registered),
		bus:      b,
	}
}

// Register adds a binding under an owner tag. A later registration of the
// same token replaces the earlier one (the reload pattern).
func (r *Registry) Register(owner string, b Binding) error {
	if !cmdPattern.MatchString(b.Cmd) {
		return fmt.Errorf("invalid command token %q", b.Cmd)
	}
	r.mu.Lock()
	r.bindings[b.Cmd] = registered{owner: owner, binding: b}
	r.mu.Unlock()
	return nil
}

// RemoveOwner drops every binding held by an owner.
func (r *Registry) RemoveOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cmd, reg := range r.bindings {
		if reg.owner == owner {
			delete(r.bindings, cmd)
		}
	}
}

// List returns all bindings sorted by token.
func (r *Registry) List() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.bindings))
	for _, reg := range r.bindings {
		out = append(out, reg.binding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmd < out[j].Cmd })
	return out
}

// OwnerCommands returns the tokens held by one owner.
func (r *Registry) OwnerCommands(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for cmd, reg := range r.bindings {
		if reg.owner == owner {
			out = append(out, cmd)
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch routes an inbound user message. When the first token matches a
// binding, exactly one event is published whose data is a copy of the
// binding's data plus arg_str (the remainder, verbatim), channel, and
// user. Returns whether a binding matched.
func (r *Registry) Dispatch(text, channel, user string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return false
	}

	token := text
	argStr := ""
	if i := strings.IndexByte(text, ' '); i > 0 {
		token = text[:i]
		argStr = strings.TrimSpace(text[i+1:])
	}

	r.mu.RLock()
	reg, ok := r.bindings[token]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	data := make(map[string]any, len(reg.binding.Data)+3)
	for k, v := range reg.binding.Data {
		data[k] = v
	}
	data["arg_str"] = argStr
	data["channel"] = channel
	data["user"] = user

	r.bus.Publish(bus.Event{Kind: reg.binding.Kind, Data: data})
	return true
}
