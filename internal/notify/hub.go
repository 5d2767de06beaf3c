// Package notify fans out item and claim change events to subscribers.
// Subscribers re-fetch whatever they display; events carry no row data.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/erazemk/lostfound/internal/model"
)

// subscriberBuffer is how many undelivered events a subscriber may hold.
// Events beyond that are dropped; one pending event already forces a re-fetch.
const subscriberBuffer = 16

// Hub is an in-process publish/subscribe channel for change events.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan model.ChangeEvent
	nextID int

	// forward, if set, also receives locally published events.
	forward func(model.ChangeEvent)
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan model.ChangeEvent)}
}

// Publish delivers ev to every subscriber without blocking and forwards it
// to the bridge, if one is attached.
func (h *Hub) Publish(ev model.ChangeEvent) {
	h.deliver(ev)

	h.mu.Lock()
	forward := h.forward
	h.mu.Unlock()
	if forward != nil {
		forward(ev)
	}
}

// deliver sends ev to local subscribers only.
func (h *Hub) deliver(ev model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping change event for slow subscriber", "subscriber", id, "table", ev.Table)
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is also called when ctx is done. Calling it more
// than once is safe.
func (h *Hub) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, func()) {
	ch := make(chan model.ChangeEvent, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return ch, unsubscribe
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
