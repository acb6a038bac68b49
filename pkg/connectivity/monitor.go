// Package connectivity tracks whether the device can reach the remote mailbox service.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/inbucket/mailsync/pkg/remote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prober checks whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor holds the current online state and notifies listeners of transitions.  Listeners are
// called once per transition, never for a repeated report of the same state.
type Monitor struct {
	mu       sync.RWMutex
	online   bool
	changed  time.Time
	prober   Prober
	interval time.Duration
	events   *extension.AsyncEventBroker[event.ConnectivityChange]
	logger   zerolog.Logger
}

// NewMonitor creates a monitor starting in the online state.  Transitions are emitted on the
// host's AfterConnectivity broker.  prober may be nil, in which case only SetOnline changes state.
func NewMonitor(prober Prober, interval time.Duration, host *extension.Host) *Monitor {
	return &Monitor{
		online:   true,
		changed:  time.Now(),
		prober:   prober,
		interval: interval,
		events:   &host.Events.AfterConnectivity,
		logger:   log.With().Str("module", "connectivity").Logger(),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Since returns when the current state began.
func (m *Monitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

// SetOnline records the state, emitting a transition event if it changed.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changed = time.Now()
	at := m.changed
	m.mu.Unlock()

	if online {
		m.logger.Info().Msg("Device online")
	} else {
		m.logger.Warn().Msg("Device offline")
	}
	m.events.Emit(&event.ConnectivityChange{Online: online, At: at})
}

// AddListener registers the named transition listener.
func (m *Monitor) AddListener(name string, listener func(event.ConnectivityChange)) {
	m.events.AddListener(name, listener)
}

// Start probes the remote at the configured interval until ctx is canceled.  Probing is
// disabled when there is no prober or the interval is not positive.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil || m.interval <= 0 {
		m.logger.Info().Msg("Connectivity probe disabled")
		return
	}
	m.logger.Info().Dur("interval", m.interval).Msg("Connectivity probe started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.ProbeOnce(ctx)
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("Connectivity probe shut down")
			return
		case <-ticker.C:
		}
	}
}

// ProbeOnce runs a single probe and records the result.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	if m.prober == nil {
		return
	}
	timeout := m.interval
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := m.prober.Probe(pctx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; not evidence of being offline.
		return
	}
	if err != nil {
		m.logger.Debug().Err(err).Msg("Probe failed")
	}
	m.SetOnline(Reachable(err))
}

// Reachable reports whether a probe result shows the remote service answered.  Any HTTP
// response, including 401 and 5xx, counts as reachable; only transport failures mean offline.
func Reachable(err error) bool {
	var httpErr *remote.HTTPError
	return err == nil ||
		errors.Is(err, remote.ErrUnauthorized) ||
		errors.Is(err, remote.ErrNotFound) ||
		errors.As(err, &httpErr)
}
