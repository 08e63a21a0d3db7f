// ABOUTME: Tests for the extension registry.
// ABOUTME: Covers registration, lookup, load ordering, and duplicate detection.

package core

import (
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/helmsmanhq/helmsman/internal/command"
)

// stubExt is the minimal Extension for registry tests.
type stubExt struct {
	id    string
	order int
}

func (s *stubExt) Descriptor() Descriptor {
	return Descriptor{ID: s.id, Name: s.id, Order: s.order, ConfigPrefix: s.id}
}
func (s *stubExt) Init(*Context, map[string]any) error { return nil }
func (s *stubExt) State() bool                         { return false }
func (s *stubExt) Form() (Schema, map[string]any)      { return Schema{}, nil }
func (s *stubExt) Page() Schema                        { return Schema{} }
func (s *stubExt) Commands() []command.Binding         { return nil }
func (s *stubExt) APIs() []Endpoint                    { return nil }
func (s *stubExt) Services() []ServiceDescriptor       { return nil }
func (s *stubExt) Stop() error                         { return nil }

func init() {
	Register(&stubExt{id: "zeta", order: 1})
	Register(&stubExt{id: "alpha", order: 2})
	Register(&stubExt{id: "beta", order: 1})
}

func TestGet(t *testing.T) {
	ext, ok := Get("zeta")
	if !ok {
		t.Fatal("Get(zeta) not found")
	}
	if ext.Descriptor().ID != "zeta" {
		t.Errorf("ID = %s, want zeta", ext.Descriptor().ID)
	}
	if _, ok := Get("missing"); ok {
		t.Error("Get(missing) = found, want not found")
	}
}

func TestAll_SortedByOrderThenID(t *testing.T) {
	known := map[string]bool{"alpha": true, "beta": true, "zeta": true}
	var ids []string
	for _, ext := range All() {
		if known[ext.Descriptor().ID] {
			ids = append(ids, ext.Descriptor().ID)
		}
	}
	want := []string{"beta", "zeta", "alpha"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestIDs_Sorted(t *testing.T) {
	ids := IDs()
	if !sort.StringsAreSorted(ids) {
		t.Errorf("IDs() = %v, want sorted", ids)
	}
	var found int
	for _, id := range ids {
		if id == "alpha" || id == "beta" || id == "zeta" {
			found++
		}
	}
	if found != 3 {
		t.Errorf("found %d of the registered ids, want 3", found)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	Register(&stubExt{id: "zeta"})
}

func TestRegister_UniqueIDsAccepted(t *testing.T) {
	for i := 0; i < 3; i++ {
		Register(&stubExt{id: fmt.Sprintf("unique-%d", i)})
	}
	for i := 0; i < 3; i++ {
		if _, ok := Get(fmt.Sprintf("unique-%d", i)); !ok {
			t.Errorf("unique-%d not registered", i)
		}
	}
}
