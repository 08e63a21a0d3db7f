// ABOUTME: In-process event bus for host-to-extension eventing.
// ABOUTME: Closed event-kind set, serialized delivery, handler panics isolated.

package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tags an event. The set is closed; new kinds are added by host
// version, never by extensions.
type Kind string

const (
	KindPluginAction     Kind = "plugin.action"
	KindSubscribeAdded   Kind = "subscribe.added"
	KindDownloadAdded    Kind = "download.added"
	KindTransferComplete Kind = "transfer.complete"
	KindSiteDeleted      Kind = "site.deleted"
	KindUserMessage      Kind = "user.message"
)

// Event carries a kind and a free-form data mapping.
type Event struct {
	Kind Kind
	Data map[string]any
	Time time.Time
}

// Handler processes one event. Handlers must not block forever; a slow
// handler stalls the dispatch goroutine, not the publisher.
type Handler func(ev Event)

type subscription struct {
	id      string
	owner   string
	kind    Kind
	handler Handler
}

// Bus delivers events in-process. Publishing enqueues; a single dispatch
// goroutine runs handlers serially, so delivery to any one subscription is
// serialized. Ordering across subscriptions is not guaranteed beyond queue
// order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	queue  chan Event
	done   chan struct{}
	closed bool
}

// DefaultQueueSize is the queue depth used when the caller passes zero.
const DefaultQueueSize = 256

// New creates and starts a bus with the given queue depth.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers a handler for an event kind under an owner tag and
// returns the subscription id.
func (b *Bus) Subscribe(owner string, kind Kind, h Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, owner: owner, kind: kind, handler: h})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes one subscription by id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeOwner removes every subscription carrying the owner tag.
// In-flight handlers finish naturally.
func (b *Bus) UnsubscribeOwner(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.owner != owner {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

// Subscriptions returns the subscription ids held by an owner.
func (b *Bus) Subscriptions(owner string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var ids []string
	for _, s := range b.subs {
		if s.owner == owner {
			ids = append(ids, s.id)
		}
	}
	return ids
}

// Publish enqueues an event for delivery. If the queue is full the event
// is dropped and logged rather than blocking the publisher. Publishing
// after Stop is a no-op.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	// The read lock pins the queue open across the send: Stop closes it
	// only under the write lock, so the send can never hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- ev:
	default:
		log.Printf("event bus: queue full, dropping %s event", ev.Kind)
	}
}

// Stop drains the queue and stops the dispatch goroutine, waiting at most
// until ctx is done.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		subs := make([]subscription, 0, len(b.subs))
		for _, s := range b.subs {
			if s.kind == ev.Kind {
				subs = append(subs, s)
			}
		}
		b.mu.RUnlock()

		for _, s := range subs {
			b.deliver(s, ev)
		}
	}
}

// deliver runs one handler with the catch-at-the-boundary rule: a panic is
// logged and delivery to the remaining handlers proceeds.
func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event bus: handler for %s (owner %s) panicked: %v", ev.Kind, s.owner, r)
		}
	}()
	s.handler(ev)
}

// ActionFilter wraps a handler so it only runs when the event's
// data["action"] matches. Extensions sharing the generic plugin.action
// kind discriminate with this; unmatched events are cheap no-ops.
func ActionFilter(action string, h Handler) Handler {
	return func(ev Event) {
		got, _ := ev.Data["action"].(string)
		if got != action {
			return
		}
		h(ev)
	}
}
