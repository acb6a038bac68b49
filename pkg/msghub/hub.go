// Package msghub relays cache events to interested listeners, such as websocket monitors.
package msghub

import (
	"container/ring"
	"context"

	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/extension/event"
)

// Length of msghub operation queue
const opChanLen = 100

// Listener receives the contents of the history buffer, followed by new events.
type Listener interface {
	Receive(e event.CacheEvent) error
}

// Hub relays cache events on to its listeners.
type Hub struct {
	// history buffer, points next event to write.  Proceeding non-nil entry is oldest event.
	history    *ring.Ring
	historyLen int
	listeners  map[Listener]struct{} // listeners interested in new events
	opChan     chan func(h *Hub)     // operations queued for this actor
}

// New constructs a new Hub which will cache historyLen events in memory for playback to future
// listeners.  The hub subscribes to cache change events on extHost.
func New(historyLen int, extHost *extension.Host) *Hub {
	hub := &Hub{
		historyLen: historyLen,
		listeners:  make(map[Listener]struct{}),
		opChan:     make(chan func(h *Hub), opChanLen),
	}
	if historyLen > 0 {
		hub.history = ring.New(historyLen)
	}

	extHost.Events.AfterCacheChanged.AddListener("msghub", hub.Dispatch)

	return hub
}

// Start Hub processing loop.  It runs until the provided context is canceled.
func (hub *Hub) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-hub.opChan:
			op(hub)
		}
	}
}

// Dispatch queues an event for broadcast by the hub.  The event will be placed into the history
// buffer and then relayed to all registered listeners.  An eviction or clear also purges older
// history for the affected entries, so new listeners are not replayed events for data that no
// longer exists.
func (hub *Hub) Dispatch(e event.CacheEvent) {
	hub.opChan <- func(h *Hub) {
		switch e.Op {
		case event.OpEvicted:
			h.forget(func(old event.CacheEvent) bool {
				return old.Resource == e.Resource && old.Key == e.Key
			})
		case event.OpCleared:
			h.forget(func(event.CacheEvent) bool { return true })
		}

		if h.history != nil {
			h.history.Value = e
			h.history = h.history.Next()
		}

		// Deliver event to all listeners, removing listeners if they return an error.
		for l := range h.listeners {
			if err := l.Receive(e); err != nil {
				delete(h.listeners, l)
			}
		}
	}
}

// AddListener registers a listener to receive broadcasted events.
func (hub *Hub) AddListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		// Playback log.
		if h.history != nil {
			h.history.Do(func(v any) {
				if v != nil {
					_ = l.Receive(v.(event.CacheEvent))
				}
			})
		}

		h.listeners[l] = struct{}{}
	}
}

// RemoveListener deletes a listener registration, it will cease to receive events.
func (hub *Hub) RemoveListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		delete(h.listeners, l)
	}
}

// Sync blocks until the msghub has processed its queue up to this point, useful for unit tests.
func (hub *Hub) Sync() {
	done := make(chan struct{})
	hub.opChan <- func(h *Hub) {
		close(done)
	}
	<-done
}

// forget rebuilds the history ring without entries matching drop, keeping order and size.
func (h *Hub) forget(drop func(event.CacheEvent) bool) {
	if h.history == nil {
		return
	}
	kept := make([]event.CacheEvent, 0, h.historyLen)
	h.history.Do(func(v any) {
		if v == nil {
			return
		}
		if e := v.(event.CacheEvent); !drop(e) {
			kept = append(kept, e)
		}
	})
	h.history = ring.New(h.historyLen)
	for _, e := range kept {
		h.history.Value = e
		h.history = h.history.Next()
	}
}
