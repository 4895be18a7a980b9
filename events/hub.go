package events

import (
	"sync"
)

// hubBuffer is the per-subscriber channel depth. Sized generously so a slow
// subscriber does not stall emission under normal load; Publish drops the
// event for subscribers whose channel is full rather than blocking the
// publisher (see Publish).
const hubBuffer = 256

// Hub is a multi-producer, single-consumer-per-subscription event bus
// (spec §5 "The event stream is multi-producer, single-consumer-per-
// subscription; ordering of events from one producer is preserved").
// Each Subscribe call gets its own buffered channel; Publish fans one
// event out to every live subscriber. A per-entity sequence counter is not
// needed for ordering because each subscriber's channel preserves FIFO
// delivery from a single publishing goroutine — callers must serialize
// their own Publish calls per producer (the engine publishes its
// cycle-level events from the goroutine driving a user's cycle, and each
// pull-phase DataChange from the one goroutine reconciling that entity).
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan SyncEvent
	next int
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan SyncEvent)}
}

// Subscription is a handle returned by Subscribe. Call Close to stop
// receiving events and release the channel.
type Subscription struct {
	id     int
	hub    *Hub
	events chan SyncEvent
}

// Events returns the read-only channel of events for this subscription.
func (s *Subscription) Events() <-chan SyncEvent { return s.events }

// Seed delivers ev to this subscription only, without fanning it out to
// any other subscriber — used to hand a fresh subscriber its InitialSync
// snapshot (spec §6 "InitialSync(snapshot)") ahead of the shared stream.
// Non-blocking: dropped if the subscriber's buffer is already full.
func (s *Subscription) Seed(ev SyncEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if _, ok := s.hub.subs[s.id]; !ok {
		return
	}

	delete(s.hub.subs, s.id)
	close(s.events)
}

// Subscribe registers a new listener and returns its subscription handle.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++

	ch := make(chan SyncEvent, hubBuffer)
	h.subs[id] = ch

	return &Subscription{id: id, hub: h, events: ch}
}

// Publish fans ev out to every live subscriber. If a subscriber's buffer is
// full, the event is dropped for that subscriber rather than blocking the
// publisher — a stalled watcher must not be able to stall a sync cycle.
func (h *Hub) Publish(ev SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every live subscription's channel, used on manager
// disposal (spec §5 "On disposal of the manager, all subscriptions are
// closed").
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
