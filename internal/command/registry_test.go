// ABOUTME: Tests for the chat command registry.
// ABOUTME: Covers token validation, replacement, owner removal, and dispatch.

package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/helmsmanhq/helmsman/internal/bus"
)

type capture struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *capture) handler(ev bus.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *capture) wait(t *testing.T, n int) []bus.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.events) >= n {
			out := append([]bus.Event(nil), c.events...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Fatalf("got %d events, want %d", len(c.events), n)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *bus.Bus) {
	t.Helper()
	b := bus.New(0)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Stop(ctx)
	})
	return NewRegistry(b), b
}

func TestRegister_InvalidToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	tests := []string{"backup", "/Backup", "/back up", "/", "/back-up"}
	for _, cmd := range tests {
		if err := r.Register("owner", Binding{Cmd: cmd, Kind: bus.KindPluginAction}); err == nil {
			t.Errorf("Register(%q) error = nil, want invalid token error", cmd)
		}
	}
}

func TestRegister_ReplaceSameToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register("a", Binding{Cmd: "/backup", Kind: bus.KindPluginAction, Desc: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("b", Binding{Cmd: "/backup", Kind: bus.KindPluginAction, Desc: "new"}); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("got %d bindings, want 1", len(list))
	}
	if list[0].Desc != "new" {
		t.Errorf("Desc = %q, want the later registration", list[0].Desc)
	}
	if got := r.OwnerCommands("a"); len(got) != 0 {
		t.Errorf("owner a still holds %v", got)
	}
}

func TestRemoveOwner(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register("a", Binding{Cmd: "/one", Kind: bus.KindPluginAction}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("a", Binding{Cmd: "/two", Kind: bus.KindPluginAction}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("b", Binding{Cmd: "/three", Kind: bus.KindPluginAction}); err != nil {
		t.Fatal(err)
	}

	r.RemoveOwner("a")

	if got := r.OwnerCommands("a"); len(got) != 0 {
		t.Errorf("owner a commands = %v, want none", got)
	}
	if got := r.OwnerCommands("b"); len(got) != 1 {
		t.Errorf("owner b commands = %v, want one", got)
	}
}

func TestDispatch_RoundTrip(t *testing.T) {
	r, b := newTestRegistry(t)
	cap := &capture{}
	b.Subscribe("test", bus.KindPluginAction, cap.handler)

	if err := r.Register("owner", Binding{
		Cmd:  "/bbdown",
		Kind: bus.KindPluginAction,
		Data: map[string]any{"action": "bbdown"},
	}); err != nil {
		t.Fatal(err)
	}

	if !r.Dispatch("/bbdown https://example/url --quality 1080", "chan", "alice") {
		t.Fatal("Dispatch() = false, want true")
	}

	events := cap.wait(t, 1)
	if len(events) != 1 {
		t.Fatalf("got %d events, want exactly 1", len(events))
	}
	ev := events[0]
	if ev.Data["action"] != "bbdown" {
		t.Errorf("action = %v, want bbdown", ev.Data["action"])
	}
	if ev.Data["arg_str"] != "https://example/url --quality 1080" {
		t.Errorf("arg_str = %q, want verbatim argument string", ev.Data["arg_str"])
	}
	if ev.Data["channel"] != "chan" || ev.Data["user"] != "alice" {
		t.Errorf("channel/user = %v/%v", ev.Data["channel"], ev.Data["user"])
	}
}

func TestDispatch_DataCopied(t *testing.T) {
	r, b := newTestRegistry(t)
	cap := &capture{}
	b.Subscribe("test", bus.KindPluginAction, cap.handler)

	data := map[string]any{"action": "sync", "extra": "kept"}
	if err := r.Register("owner", Binding{Cmd: "/sync", Kind: bus.KindPluginAction, Data: data}); err != nil {
		t.Fatal(err)
	}

	r.Dispatch("/sync", "", "")
	events := cap.wait(t, 1)

	// Every binding data key present, plus arg_str.
	for key, want := range data {
		if events[0].Data[key] != want {
			t.Errorf("Data[%q] = %v, want %v", key, events[0].Data[key], want)
		}
	}
	if _, ok := events[0].Data["arg_str"]; !ok {
		t.Error("arg_str missing from event data")
	}

	// The binding's own map must not be mutated by dispatch.
	if _, ok := data["arg_str"]; ok {
		t.Error("dispatch mutated the registered data map")
	}
}

func TestDispatch_UnknownToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	if r.Dispatch("/missing arg", "", "") {
		t.Error("Dispatch(unknown) = true, want false")
	}
}

func TestDispatch_NonCommandText(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register("owner", Binding{Cmd: "/cmd", Kind: bus.KindPluginAction}); err != nil {
		t.Fatal(err)
	}
	if r.Dispatch("hello world", "", "") {
		t.Error("Dispatch(plain text) = true, want false")
	}
}
