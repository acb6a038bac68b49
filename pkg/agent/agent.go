// Package agent intercepts outgoing HTTP requests and applies a caching strategy chosen by route
// classification.  It keeps its own versioned response cache on disk, separate from the
// persistent local store.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/inbucket/mailsync/pkg/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoCachedResponse indicates the network failed and no cached response could stand in.
var ErrNoCachedResponse = errors.New("network unavailable and no cached response")

// Header set on responses served from the agent cache.
const CacheHeader = "X-Mailsync-Cache"

// Length of the command queue.
const opChanLen = 32

var (
	expHits          = new(expvar.Int)
	expMisses        = new(expvar.Int)
	expRevalidations = new(expvar.Int)
	expFallbacks     = new(expvar.Int)
	expBypassed      = new(expvar.Int)
	expCommands      = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("agent")
	m.Set("Hits", expHits)
	m.Set("Misses", expMisses)
	m.Set("Revalidations", expRevalidations)
	m.Set("Fallbacks", expFallbacks)
	m.Set("Bypassed", expBypassed)
	m.Set("Commands", expCommands)
}

// Options configure an Agent.
type Options struct {
	Base            http.RoundTripper // Defaults to http.DefaultTransport
	Rules           *Rules            // Defaults to DefaultRules()
	Storage         *CacheStorage
	Version         string
	Origin          *url.URL // Resolves relative precache, prefetch and offline document URLs
	Precache        []string
	OfflineDocument string
	Spawner         *task.Spawner

	// Decorate, when set, is applied to requests the agent originates itself (precache and
	// prefetch), for example to attach credentials.
	Decorate func(*http.Request)
}

// Agent is an http.RoundTripper applying the caching strategies.  Until it is activated it passes
// every request straight to the network.
type Agent struct {
	base       http.RoundTripper
	rules      *Rules
	storage    *CacheStorage
	version    string
	origin     *url.URL
	precache   []string
	offlineDoc string
	spawner    *task.Spawner
	decorate   func(*http.Request)
	active     atomic.Bool
	opChan     chan func(a *Agent)
	logger     zerolog.Logger
}

var _ http.RoundTripper = &Agent{}

// New creates an agent.  Call Install to precache the shell and activate it.
func New(opts Options) (*Agent, error) {
	if opts.Storage == nil {
		return nil, errors.New("agent requires cache storage")
	}
	if opts.Version == "" {
		return nil, errors.New("agent requires a cache version")
	}
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Spawner == nil {
		opts.Spawner = task.NewSpawner()
	}
	if opts.Origin == nil {
		opts.Origin = &url.URL{}
	}
	return &Agent{
		base:       opts.Base,
		rules:      opts.Rules,
		storage:    opts.Storage,
		version:    opts.Version,
		origin:     opts.Origin,
		precache:   opts.Precache,
		offlineDoc: opts.OfflineDocument,
		spawner:    opts.Spawner,
		decorate:   opts.Decorate,
		opChan:     make(chan func(a *Agent), opChanLen),
		logger:     log.With().Str("module", "agent").Str("version", opts.Version).Logger(),
	}, nil
}

// Namespace names for the current version.
func (a *Agent) shellName() string  { return a.version + "-shell" }
func (a *Agent) staticName() string { return a.version + "-static" }
func (a *Agent) apiName() string    { return a.version + "-api" }

// Namespaces returns the three namespaces belonging to the current version.
func (a *Agent) Namespaces() []string {
	return []string{a.shellName(), a.staticName(), a.apiName()}
}

// Active reports whether the agent is intercepting requests.
func (a *Agent) Active() bool {
	return a.active.Load()
}

// Install precaches the shell manifest and activates immediately, without waiting for requests
// served by a previous version to finish.  A manifest entry that cannot be fetched fails the
// install.
func (a *Agent) Install(ctx context.Context) error {
	shell := a.storage.Open(a.shellName())
	manifest := a.precache
	if a.offlineDoc != "" {
		manifest = append(append([]string(nil), manifest...), a.offlineDoc)
	}
	for _, ref := range manifest {
		req, err := a.newGet(ctx, ref)
		if err != nil {
			return err
		}
		resp, err := a.base.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", ref, err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return fmt.Errorf("precache %s: unexpected %s", ref, resp.Status)
		}
		err = shell.Put(req, resp)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("precache %s: %w", ref, err)
		}
	}
	a.logger.Info().Int("assets", len(manifest)).Msg("Installed")
	return a.Activate()
}

// Activate deletes every namespace except the current version's three, then starts
// intercepting.
func (a *Agent) Activate() error {
	keep := make(map[string]bool)
	for _, n := range a.Namespaces() {
		keep[n] = true
	}
	names, err := a.storage.Keys()
	if err != nil {
		return err
	}
	for _, n := range names {
		if keep[n] {
			continue
		}
		if err := a.storage.Delete(n); err != nil {
			return err
		}
		a.logger.Info().Str("namespace", n).Msg("Deleted outdated cache")
	}
	a.active.Store(true)
	a.logger.Info().Msg("Activated")
	return nil
}

// RoundTrip implements http.RoundTripper.
func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	if !a.Active() {
		return a.base.RoundTrip(req)
	}
	strategy := a.rules.Classify(req)
	a.logger.Trace().Str("url", req.URL.String()).Stringer("strategy", strategy).Msg("Intercepted")
	switch strategy {
	case StaleWhileRevalidate:
		return a.staleWhileRevalidate(req)
	case CacheFirst:
		return a.cacheFirst(req)
	case NetworkFirst:
		return a.networkFirst(req)
	}
	expBypassed.Add(1)
	return a.base.RoundTrip(req)
}

// staleWhileRevalidate returns a cached response immediately and refreshes it in the background.
// Without a cached response it waits for the network.
func (a *Agent) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	api := a.storage.Open(a.apiName())
	if cached := a.match(api, req); cached != nil {
		a.revalidate(api, req)
		return cached, nil
	}
	expMisses.Add(1)
	return a.fetchAndPut(api, req)
}

// cacheFirst serves the static or shell cache when possible, refreshing in the background.
// Navigations fall back to the offline document when the network is unavailable.
func (a *Agent) cacheFirst(req *http.Request) (*http.Response, error) {
	static := a.storage.Open(a.staticName())
	if cached := a.match(static, req); cached != nil {
		a.revalidate(static, req)
		return cached, nil
	}
	shell := a.storage.Open(a.shellName())
	if cached := a.match(shell, req); cached != nil {
		a.revalidate(shell, req)
		return cached, nil
	}
	expMisses.Add(1)
	resp, err := a.fetchAndPut(static, req)
	if err == nil {
		return resp, nil
	}
	if isNavigation(req) {
		if doc := a.offlineDocument(req); doc != nil {
			expFallbacks.Add(1)
			return doc, nil
		}
	}
	return nil, err
}

// networkFirst tries the network, falling back to the cache only on failure.
func (a *Agent) networkFirst(req *http.Request) (*http.Response, error) {
	api := a.storage.Open(a.apiName())
	resp, err := a.fetchAndPut(api, req)
	if err == nil {
		return resp, nil
	}
	if cached := a.match(api, req); cached != nil {
		expFallbacks.Add(1)
		a.logger.Debug().Str("url", req.URL.String()).Err(err).Msg("Network failed, served cache")
		return cached, nil
	}
	return nil, errors.Join(ErrNoCachedResponse, err)
}

// fetchAndPut performs the request and caches a 200 response.
func (a *Agent) fetchAndPut(c *Cache, req *http.Request) (*http.Response, error) {
	resp, err := a.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		if err := c.Put(req, resp); err != nil {
			a.logger.Warn().Str("url", req.URL.String()).Err(err).Msg("Failed to cache response")
		}
	}
	return resp, nil
}

// revalidate refreshes the cached response for req as a detached task.  Failures keep the
// existing entry.
func (a *Agent) revalidate(c *Cache, req *http.Request) {
	expRevalidations.Add(1)
	a.spawner.SpawnDetached("revalidate "+req.URL.Path, func(ctx context.Context) error {
		r := req.Clone(ctx)
		r.Body = nil
		resp, err := a.base.RoundTrip(r)
		if err != nil {
			return fmt.Errorf("revalidate %s: %w", req.URL, err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return nil
		}
		return c.Put(r, resp)
	})
}

func (a *Agent) match(c *Cache, req *http.Request) *http.Response {
	resp, ok, err := c.Match(req)
	if err != nil {
		a.logger.Warn().Str("namespace", c.Name()).Str("url", req.URL.String()).Err(err).
			Msg("Cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	expHits.Add(1)
	resp.Header.Set(CacheHeader, "hit")
	return resp
}

func (a *Agent) offlineDocument(req *http.Request) *http.Response {
	if a.offlineDoc == "" {
		return nil
	}
	docReq, err := a.newGet(req.Context(), a.offlineDoc)
	if err != nil {
		return nil
	}
	resp := a.match(a.storage.Open(a.shellName()), docReq)
	if resp != nil {
		resp.Header.Set(CacheHeader, "offline")
	}
	return resp
}

// newGet builds a GET request for ref, resolved against the origin.
func (a *Agent) newGet(ctx context.Context, ref string) (*http.Request, error) {
	u, err := a.origin.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", ref, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if a.decorate != nil {
		a.decorate(req)
	}
	return req, nil
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
