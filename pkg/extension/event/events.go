// Package event contains the event types emitted by the cache engine.
package event

import "time"

// CacheOp identifies what happened to a cache entry.
type CacheOp string

// Cache operations.
const (
	OpUpdated     CacheOp = "updated"
	OpInvalidated CacheOp = "invalidated"
	OpEvicted     CacheOp = "evicted"
	OpRolledBack  CacheOp = "rolledback"
	OpQueued      CacheOp = "queued"
	OpCleared     CacheOp = "cleared"
)

// Resource identifies the kind of cached value.
type Resource string

// Cached resources.
const (
	ResourceLabels Resource = "labels"
	ResourcePage   Resource = "page"
	ResourceDetail Resource = "detail"
	ResourceAll    Resource = "all"
)

// CacheEvent describes a change to one query cache entry.
type CacheEvent struct {
	Op       CacheOp   `json:"op"`
	Resource Resource  `json:"resource"`
	Key      string    `json:"key,omitempty"`
	Mutation string    `json:"mutation,omitempty"`
	At       time.Time `json:"at"`
}

// ConnectivityChange is emitted when the device goes online or offline.
type ConnectivityChange struct {
	Online bool
	At     time.Time
}

// DetailFetched carries the rendered bodies of a message detail fetched from the network.
type DetailFetched struct {
	ID   string
	Text string
	HTML string
}
