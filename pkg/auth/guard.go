// Package auth guards credential refresh.  At most one refresh call is in flight at any time, and
// every request that failed while it was pending observes the same outcome.
package auth

import (
	"context"
	"errors"
	"expvar"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired indicates the credential could not be refreshed and the session has ended.
var ErrSessionExpired = errors.New("session expired")

var (
	expRefreshes       = new(expvar.Int)
	expRefreshFailures = new(expvar.Int)
	expShared          = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("auth")
	m.Set("Refreshes", expRefreshes)
	m.Set("RefreshFailures", expRefreshFailures)
	m.Set("SharedWaits", expShared)
}

// State of the guard.
type State int

// Guard states.
const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

const flightKey = "refresh"

// Guard owns the current access token and serializes refreshes.
type Guard struct {
	refresher Refresher
	group     singleflight.Group
	logger    zerolog.Logger

	mu       sync.RWMutex
	token    string
	state    State
	onLogout []func(error)
}

// NewGuard creates a guard starting with token, which may be empty.
func NewGuard(token string, refresher Refresher) *Guard {
	return &Guard{
		refresher: refresher,
		token:     token,
		logger:    log.With().Str("module", "auth").Logger(),
	}
}

// Token returns the current access token.
func (g *Guard) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// SetToken installs a token obtained out of band, such as after a new login.
func (g *Guard) SetToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = token
}

// State reports whether a refresh is in flight.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// OnLogout registers a callback invoked once per failed refresh.
func (g *Guard) OnLogout(f func(error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLogout = append(g.onLogout, f)
}

// Refresh returns a credential newer than stale.  If another caller already replaced stale, the
// current token is returned without a network call.  Otherwise the caller joins the single shared
// refresh, starting it if none is in flight.  A failed refresh is shared only by the callers that
// joined it; the next call starts a new one.  Canceling ctx abandons the wait but not the shared
// refresh.
func (g *Guard) Refresh(ctx context.Context, stale string) (string, error) {
	g.mu.RLock()
	current := g.token
	g.mu.RUnlock()
	if current != stale && current != "" {
		return current, nil
	}

	ch := g.group.DoChan(flightKey, func() (any, error) {
		return g.doRefresh(context.WithoutCancel(ctx), stale)
	})
	select {
	case res := <-ch:
		if res.Shared {
			expShared.Add(1)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *Guard) doRefresh(ctx context.Context, stale string) (string, error) {
	g.mu.Lock()
	if g.token != stale && g.token != "" {
		// A flight that finished between the caller's check and this one already replaced it.
		token := g.token
		g.mu.Unlock()
		return token, nil
	}
	g.state = Refreshing
	g.mu.Unlock()
	expRefreshes.Add(1)
	g.logger.Debug().Msg("Refreshing credential")

	token, err := g.refresher.Refresh(ctx)
	if err == nil && token == "" {
		err = errors.New("refresher returned an empty token")
	}

	g.mu.Lock()
	g.state = Idle
	if err == nil {
		g.token = token
	}
	callbacks := append(([]func(error))(nil), g.onLogout...)
	g.mu.Unlock()

	if err != nil {
		expRefreshFailures.Add(1)
		g.logger.Warn().Err(err).Msg("Credential refresh failed, logging out")
		for _, f := range callbacks {
			f(err)
		}
		return "", errors.Join(ErrSessionExpired, err)
	}
	g.logger.Debug().Msg("Credential refreshed")
	return token, nil
}
