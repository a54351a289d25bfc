package cogmem

import (
	"sync"
	"time"
)

const subscriberBufferSize = 32

// Bus fans out events to in-process subscribers (e.g. the events adapter's
// websocket clients) while the Store independently persists every event to
// the durable cross-process queue. The two are decoupled: a slow or absent
// subscriber never blocks a caller from persisting, and a subscriber that
// falls behind simply misses events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty in-process event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel and a cancel
// func to unsubscribe. The channel is closed when that cancel func is called.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBufferSize)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish fans an event out to every current subscriber, non-blocking: a
// full subscriber channel drops the event rather than stalling the emitter.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// PublishType is a convenience wrapper for emitting a synthetic, in-memory-
// only event (no persisted ID) stamped with the current time.
func (b *Bus) PublishType(typ EventType, data []byte) {
	b.Publish(Event{Type: typ, Data: data, Timestamp: time.Now()})
}

// PumpStore polls the store's durable event queue on interval and republishes
// each unprocessed event to the bus, marking it processed once published.
// Intended to be run in its own goroutine by the worker loop; returns when
// stop is closed.
func (b *Bus) PumpStore(store *Store, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			events, err := store.GetUnprocessedEvents(100)
			if err != nil || len(events) == 0 {
				continue
			}
			ids := make([]int64, 0, len(events))
			for _, e := range events {
				b.Publish(e)
				ids = append(ids, e.ID)
			}
			store.MarkProcessed(ids)
		}
	}
}
