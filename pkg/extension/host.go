package extension

import (
	"github.com/inbucket/mailsync/pkg/extension/event"
)

// Host defines extension points for the cache engine.
type Host struct {
	Events *Events
}

// Events defines all the event types supported by the extension host.
//
// After-events allow extensions to take an action after an event has completed.  These events are
// processed asynchronously with respect to the rest of the engine.
//
// BeforeDetailCached is processed synchronously before a freshly fetched message detail is
// written to the cache.  The first listener to respond with a non-nil value replaces the detail.
type Events struct {
	AfterCacheChanged  AsyncEventBroker[event.CacheEvent]
	AfterConnectivity  AsyncEventBroker[event.ConnectivityChange]
	BeforeDetailCached EventBroker[event.DetailFetched, event.DetailFetched]
}

// NewHost creates a new extension host.
func NewHost() *Host {
	return &Host{Events: &Events{}}
}
