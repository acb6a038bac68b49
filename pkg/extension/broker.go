package extension

// EventBroker maintains a list of listeners interested in a specific type of event.  Listeners
// are called synchronously in priority order.
type EventBroker[E any, R any] struct {
	registry[func(E) *R]
}

// Emit sends the provided event to each registered listener in order, until one returns a non-nil
// result.  That result will be returned to the caller.
func (eb *EventBroker[E, R]) Emit(event *E) *R {
	for _, l := range eb.snapshot() {
		// Events are copied to minimize the risk of mutation.
		if result := l(*event); result != nil {
			return result
		}
	}
	return nil
}

// AddListener registers the named listener, replacing one with a duplicate name if present.
// Listeners should be added in order of priority, most significant first.
func (eb *EventBroker[E, R]) AddListener(name string, listener func(E) *R) {
	eb.add(name, listener)
}

// RemoveListener unregisters the named listener.
func (eb *EventBroker[E, R]) RemoveListener(name string) {
	eb.remove(name)
}
