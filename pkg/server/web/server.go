// Package web provides the plumbing for the mailsync local API.
package web

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailsync/pkg/agent"
	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/connectivity"
	"github.com/inbucket/mailsync/pkg/msghub"
	"github.com/inbucket/mailsync/pkg/query"
	"github.com/rs/zerolog/log"
)

// Services are the engine components exposed to request handlers.
type Services struct {
	MsgHub  *msghub.Hub
	Cache   *query.Cache
	Agent   *agent.Agent
	Monitor *connectivity.Monitor
}

var (
	// services and rootConfig are handed to every request through NewContext.
	services   Services
	rootConfig *config.Root

	// Router is shared between the web and rest packages.  It sends incoming requests to the
	// correct handler function.
	Router = mux.NewRouter()

	// ExpWebSocketConnectsCurrent tracks the number of open WebSockets
	ExpWebSocketConnectsCurrent = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("http")
	m.Set("WebSocketConnectsCurrent", ExpWebSocketConnectsCurrent)
}

// Server defines an instance of the local API server.
type Server struct {
	server   *http.Server
	listener net.Listener
	notify   chan error
}

// NewServer sets up things for unit tests or the Start() method.
func NewServer(conf *config.Root, svc Services) *Server {
	rootConfig = conf
	services = svc

	prefix := MakePathPrefixer(conf.Web.BasePath)
	Router.Path(prefix("/debug/vars")).Handler(expvar.Handler()).Methods("GET")
	Router.NotFoundHandler = noMatchHandler(http.StatusNotFound, "No route matches URI path")
	Router.MethodNotAllowedHandler = noMatchHandler(http.StatusMethodNotAllowed,
		"Method not allowed for URI path")

	return &Server{
		server: &http.Server{
			Addr:         conf.Web.Addr,
			Handler:      requestLoggingWrapper(Router),
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		notify: make(chan error, 1),
	}
}

// Start begins listening for HTTP requests.  readyFunc is called once the listener is bound.
// Start blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context, readyFunc func()) {
	slog := log.With().Str("module", "web").Str("phase", "startup").Str("addr", s.server.Addr).
		Logger()

	// We don't use ListenAndServe because it lacks a way to close the listener.
	var err error
	s.listener, err = net.Listen("tcp", s.server.Addr)
	if err != nil {
		slog.Error().Err(err).Msg("HTTP failed to start TCP listener")
		s.notify <- err
		close(s.notify)
		return
	}
	slog.Info().Msg("HTTP listening on TCP")
	readyFunc()

	// Listener go routine.
	go s.serve(ctx)

	// Wait for shutdown.
	<-ctx.Done()
	log.Debug().Str("module", "web").Str("phase", "shutdown").
		Msg("HTTP server shutting down on request")

	// Closing the listener will cause the serve() go routine to exit.
	if err := s.listener.Close(); err != nil {
		log.Debug().Str("module", "web").Str("phase", "shutdown").Err(err).
			Msg("Failed to close HTTP listener")
	}
}

// serve begins serving HTTP requests.
func (s *Server) serve(ctx context.Context) {
	// server.Serve blocks until we close the listener.
	err := s.server.Serve(s.listener)

	select {
	case <-ctx.Done():
		// Nop
	default:
		log.Error().Str("module", "web").Str("phase", "startup").Err(err).
			Msg("HTTP server failed")
		s.notify <- err
		close(s.notify)
	}
}

// Notify allows the running server to notify the caller of a fatal error.
func (s *Server) Notify() <-chan error {
	return s.notify
}
