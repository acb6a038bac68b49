package extension

import (
	"errors"
	"time"
)

// AsyncEventBroker maintains a list of listeners interested in a specific type of event.  Events
// are sent in parallel to all listeners, and no result is returned.
type AsyncEventBroker[E any] struct {
	registry[func(E)]
}

// Emit sends the provided event to each registered listener in parallel.
func (eb *AsyncEventBroker[E]) Emit(event *E) {
	for _, l := range eb.snapshot() {
		go l(*event)
	}
}

// AddListener registers the named listener, replacing one with a duplicate name if present.
func (eb *AsyncEventBroker[E]) AddListener(name string, listener func(E)) {
	eb.add(name, listener)
}

// RemoveListener unregisters the named listener.
func (eb *AsyncEventBroker[E]) RemoveListener(name string) {
	eb.remove(name)
}

// AsyncTestListener returns a func that will wait for an event and return it, or timeout with an
// error.  The listener unregisters itself after capacity events.
func (eb *AsyncEventBroker[E]) AsyncTestListener(name string, capacity int) func() (*E, error) {
	events := make(chan E, capacity)
	eb.AddListener(name, func(e E) {
		events <- e
	})

	count := 0
	return func() (*E, error) {
		count++
		defer func() {
			if count >= capacity {
				eb.RemoveListener(name)
			}
		}()

		select {
		case e := <-events:
			return &e, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("timeout waiting for event")
		}
	}
}
