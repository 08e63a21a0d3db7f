// ABOUTME: In-memory subscription record store backing the SubscriptionStore façade.
// ABOUTME: The outer host replaces this with its database-backed implementation.

package host

import (
	"fmt"
	"sync"

	"github.com/helmsmanhq/helmsman/extensions/core"
)

// MemSubscriptions is a map-backed core.SubscriptionStore. It doubles as
// the test double for extensions that patch subscription records.
type MemSubscriptions struct {
	mu   sync.RWMutex
	subs map[int64]*core.Subscription
}

func NewMemSubscriptions() *MemSubscriptions {
	return &MemSubscriptions{subs: make(map[int64]*core.Subscription)}
}

// Put inserts or replaces a record.
func (m *MemSubscriptions) Put(sub core.Subscription) {
	m.mu.Lock()
	copied := sub
	m.subs[sub.ID] = &copied
	m.mu.Unlock()
}

// Get implements core.SubscriptionStore.
func (m *MemSubscriptions) Get(id int64) (*core.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, false
	}
	copied := *sub
	return &copied, true
}

// Find implements core.SubscriptionStore: lookup by TMDB id and season.
func (m *MemSubscriptions) Find(tmdbID, season int) (*core.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if sub.TMDBID == tmdbID && sub.Season == season {
			copied := *sub
			return &copied, true
		}
	}
	return nil, false
}

// Update implements core.SubscriptionStore: patches only the given fields.
func (m *MemSubscriptions) Update(id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("subscription %d not found", id)
	}
	for k, v := range fields {
		switch k {
		case "include":
			sub.Include, _ = v.(string)
		case "exclude":
			sub.Exclude, _ = v.(string)
		case "sites":
			if sites, ok := v.([]string); ok {
				sub.Sites = sites
			}
		case "resolution":
			sub.Resolution, _ = v.(string)
		case "quality":
			sub.Quality, _ = v.(string)
		case "effect":
			sub.Effect, _ = v.(string)
		case "release_group":
			sub.ReleaseGroup, _ = v.(string)
		default:
			return fmt.Errorf("unknown subscription field %q", k)
		}
	}
	return nil
}

var _ core.SubscriptionStore = (*MemSubscriptions)(nil)
