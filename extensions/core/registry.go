// ABOUTME: Extension registry for registering and retrieving extensions.
// ABOUTME: Extensions register themselves in init() functions.

package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Extension)
	mu       sync.RWMutex
)

// Register adds an extension to the registry
func Register(e Extension) {
	mu.Lock()
	defer mu.Unlock()

	id := e.Descriptor().ID
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("extension %q already registered", id))
	}
	registry[id] = e
}

// Get retrieves an extension by id
func Get(id string) (Extension, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := registry[id]
	return e, ok
}

// All returns all registered extensions sorted by load order, then id
func All() []Extension {
	mu.RLock()
	defer mu.RUnlock()

	exts := make([]Extension, 0, len(registry))
	for _, e := range registry {
		exts = append(exts, e)
	}
	sort.Slice(exts, func(i, j int) bool {
		di, dj := exts[i].Descriptor(), exts[j].Descriptor()
		if di.Order != dj.Order {
			return di.Order < dj.Order
		}
		return di.ID < dj.ID
	})
	return exts
}

// IDs returns all registered extension ids
func IDs() []string {
	mu.RLock()
	defer mu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
