package client

import (
	"net/http"
	"time"
)

// Options holds the settings for the client.
type Options struct {
	transport http.RoundTripper
	timeout   time.Duration
}

func defaultOptions() *Options {
	return &Options{timeout: 30 * time.Second}
}

// WithTransport sets the transport, typically the auth transport layered over the agent.
func WithTransport(transport http.RoundTripper) func(*Options) {
	return func(o *Options) {
		o.transport = transport
	}
}

// WithTimeout sets the per-request timeout.  Zero disables it.
func WithTimeout(d time.Duration) func(*Options) {
	return func(o *Options) {
		o.timeout = d
	}
}
