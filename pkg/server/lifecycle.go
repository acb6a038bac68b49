// Package server wires the cache engine components into a running daemon.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/inbucket/mailsync/pkg/agent"
	"github.com/inbucket/mailsync/pkg/auth"
	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/connectivity"
	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/inbucket/mailsync/pkg/msghub"
	"github.com/inbucket/mailsync/pkg/query"
	"github.com/inbucket/mailsync/pkg/remote"
	"github.com/inbucket/mailsync/pkg/remote/client"
	"github.com/inbucket/mailsync/pkg/remote/gmail"
	"github.com/inbucket/mailsync/pkg/rest"
	"github.com/inbucket/mailsync/pkg/sanitize"
	"github.com/inbucket/mailsync/pkg/server/web"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/inbucket/mailsync/pkg/task"
	"github.com/rs/zerolog/log"
)

// Services holds the configured services.
type Services struct {
	ExtHost   *extension.Host
	Local     *storage.Local
	Remote    remote.Service
	Guard     *auth.Guard
	Agent     *agent.Agent // nil when disabled
	Monitor   *connectivity.Monitor
	Cache     *query.Cache
	MsgHub    *msghub.Hub
	Spawner   *task.Spawner
	WebServer *web.Server
}

// FullAssembly wires up a complete mailsync environment.
func FullAssembly(conf *config.Root) (*Services, error) {
	extHost := extension.NewHost()
	spawner := task.NewSpawner()

	// Configure storage.
	backend, err := storage.FromConfig(conf.Storage)
	if err != nil {
		return nil, err
	}
	local := storage.NewLocal(backend, conf.Storage)

	origin, err := url.Parse(conf.Remote.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote base URL: %w", err)
	}

	// Requests to the remote service pass through the credential guard, then the agent.
	guard := auth.NewGuard(conf.Auth.AccessToken, refresherFromConfig(conf))
	var base http.RoundTripper = http.DefaultTransport
	var nia *agent.Agent
	if conf.Agent.Enabled {
		nia, err = agentFromConfig(conf.Agent, origin, guard, spawner)
		if err != nil {
			return nil, err
		}
		base = nia
	}
	transport := &auth.Transport{Base: base, Guard: guard}

	svc, indexer, err := remoteFromConfig(conf.Remote, transport)
	if err != nil {
		return nil, err
	}
	if conf.Remote.Provider == "rest" {
		// Bodies from the mailbox API are not sanitized upstream.
		extHost.Events.BeforeDetailCached.AddListener("sanitize", sanitizeListener(sanitize.Default))
	}

	monitor := connectivity.NewMonitor(svc, conf.Remote.ProbeInterval, extHost)
	cache, err := query.New(query.Options{
		Local:      local,
		Remote:     svc,
		Online:     monitor,
		Host:       extHost,
		Spawner:    spawner,
		Indexer:    indexer,
		Policies:   query.PoliciesFromConfig(conf.Query),
		PageSize:   conf.Remote.PageSize,
		GCInterval: conf.Query.GCInterval,
	})
	if err != nil {
		return nil, err
	}

	guard.OnLogout(func(err error) {
		log.Warn().Str("module", "auth").Err(err).Msg("Session expired, clearing caches")
		cache.ClearAll()
		if nia != nil {
			nia.Post(agent.ClearAll{})
		}
	})

	msgHub := msghub.New(conf.Web.MonitorHistory, extHost)

	// Configure routes.
	prefix := web.MakePathPrefixer(conf.Web.BasePath)
	rest.SetupRoutes(web.Router.PathPrefix(prefix("/api/")).Subrouter())
	webServer := web.NewServer(conf, web.Services{
		MsgHub:  msgHub,
		Cache:   cache,
		Agent:   nia,
		Monitor: monitor,
	})

	return &Services{
		ExtHost:   extHost,
		Local:     local,
		Remote:    svc,
		Guard:     guard,
		Agent:     nia,
		Monitor:   monitor,
		Cache:     cache,
		MsgHub:    msgHub,
		Spawner:   spawner,
		WebServer: webServer,
	}, nil
}

// Start all services, returns immediately.  Callers may use Notify to detect failed services.
func (s *Services) Start(ctx context.Context, readyFunc func()) {
	go s.Spawner.Start(ctx)
	go s.MsgHub.Start(ctx)
	go s.Monitor.Start(ctx)
	go s.Cache.Start(ctx)
	if s.Agent != nil {
		go s.Agent.Start(ctx)
		s.Spawner.SpawnDetached("agent-install", s.Agent.Install)
	}
	go s.WebServer.Start(ctx, readyFunc)
}

// Notify merges the error notification channels of all fallible services, allowing the process
// to be shutdown if needed.
func (s *Services) Notify() <-chan error {
	return s.WebServer.Notify()
}

// Stop cancels background work and closes the local store.  Call after the root context has
// been canceled.
func (s *Services) Stop() {
	s.Cache.Close()
	s.Spawner.Close()
	if err := s.Local.Close(); err != nil {
		log.Warn().Str("module", "storage").Str("phase", "shutdown").Err(err).
			Msg("Failed to close local store")
	}
}

// refresherFromConfig uses the OAuth2 token endpoint when configured, otherwise the mailbox
// API's own refresh route.  The refresh client bypasses the guard.
func refresherFromConfig(conf *config.Root) auth.Refresher {
	if conf.Auth.TokenURL != "" {
		return auth.NewOAuth2Refresher(conf.Auth)
	}
	return auth.RefresherFunc(func(ctx context.Context) (string, error) {
		c, err := client.New(conf.Remote.BaseURL, client.WithTimeout(conf.Remote.Timeout))
		if err != nil {
			return "", err
		}
		return c.Refresh(ctx, conf.Auth.RefreshToken)
	})
}

func agentFromConfig(
	cfg config.Agent, origin *url.URL, guard *auth.Guard, spawner *task.Spawner,
) (*agent.Agent, error) {
	rules := agent.DefaultRules()
	if cfg.RulesFile != "" {
		var err error
		if rules, err = agent.LoadRules(cfg.RulesFile); err != nil {
			return nil, err
		}
	}
	store, err := agent.NewCacheStorage(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	return agent.New(agent.Options{
		Rules:           rules,
		Storage:         store,
		Version:         cfg.Version,
		Origin:          origin,
		Precache:        cfg.Precache,
		OfflineDocument: cfg.OfflineDocument,
		Spawner:         spawner,
		Decorate: func(req *http.Request) {
			if token := guard.Token(); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		},
	})
}

// remoteFromConfig builds the configured remote service.  The REST provider also serves as the
// search indexer.
func remoteFromConfig(
	cfg config.Remote, transport http.RoundTripper,
) (remote.Service, query.Indexer, error) {
	switch cfg.Provider {
	case "rest":
		c, err := client.New(cfg.BaseURL,
			client.WithTransport(transport), client.WithTimeout(cfg.Timeout))
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "gmail":
		hc := &http.Client{Transport: transport, Timeout: cfg.Timeout}
		s, err := gmail.New(context.Background(), hc, sanitize.Default)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown remote provider configured: %q", cfg.Provider)
}

// sanitizeListener rewrites the HTML body of freshly fetched details.
func sanitizeListener(p *sanitize.Policy) func(event.DetailFetched) *event.DetailFetched {
	return func(d event.DetailFetched) *event.DetailFetched {
		if d.HTML == "" {
			return nil
		}
		clean, err := p.HTML(d.HTML)
		if err != nil {
			log.Warn().Str("module", "sanitize").Str("id", d.ID).Err(err).
				Msg("Failed to sanitize HTML, dropping it")
			clean = ""
		}
		d.HTML = clean
		return &d
	}
}
