// Package httpapi exposes the conversation pipeline over HTTP: a JSON REST
// surface for session control, a per-session WebSocket event stream, and the
// operational endpoints (/healthz, /readyz, /metrics).
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/verbly-ai/verbly/internal/config"
	"github.com/verbly-ai/verbly/internal/health"
	"github.com/verbly-ai/verbly/internal/observe"
	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/internal/store"
)

// shutdownGrace bounds graceful connection draining on shutdown.
const shutdownGrace = 10 * time.Second

// Server serves the Verbly HTTP API.
type Server struct {
	cfg      config.ServerConfig
	sessions *sessionManager
	store    store.SnapshotStore
	catalog  *scenario.Catalog
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Deps carries everything a [Server] needs. All fields are required except
// Health and Metrics, which fall back to an empty handler and the package
// defaults.
type Deps struct {
	Config  config.ServerConfig
	Factory ControllerFactory
	Store   store.SnapshotStore
	Catalog *scenario.Catalog
	Health  *health.Handler
	Metrics *observe.Metrics
	Log     *slog.Logger
}

// New creates a [Server]. It does not start listening; call [Server.Run].
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Factory == nil:
		return nil, errors.New("httpapi: controller factory is required")
	case deps.Store == nil:
		return nil, errors.New("httpapi: snapshot store is required")
	case deps.Catalog == nil:
		return nil, errors.New("httpapi: scenario catalog is required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:      deps.Config,
		sessions: newSessionManager(deps.Factory, deps.Store, deps.Log),
		store:    deps.Store,
		catalog:  deps.Catalog,
		health:   deps.Health,
		metrics:  deps.Metrics,
		log:      deps.Log,
	}, nil
}

// Router builds the request multiplexer with all API, event-stream, and
// operational routes. API routes are wrapped in the observability middleware;
// probes and the metrics scrape endpoint are not.
func (s *Server) Router() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/sessions", s.handleCreateSession)
	api.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	api.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	api.HandleFunc("POST /api/sessions/{id}/audio", s.handleSubmitAudio)
	api.HandleFunc("POST /api/sessions/{id}/reset", s.handleReset)
	api.HandleFunc("POST /api/sessions/{id}/auto-listen", s.handleAutoListen)
	api.HandleFunc("POST /api/sessions/{id}/replay", s.handleReplay)
	api.HandleFunc("GET /api/scenarios", s.handleScenarios)

	root := http.NewServeMux()
	root.Handle("/api/", observe.Middleware(s.metrics)(api))
	// The event stream is long-lived; keep it out of the request-duration
	// middleware so it does not skew latency histograms.
	root.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	s.health.Register(root)
	root.Handle("GET /metrics", promhttp.Handler())
	return root
}

// Run listens until ctx is cancelled, then drains connections and closes
// every live session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.TLS != nil {
			s.log.Info("listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.log.Info("listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.closeSessions()
		return err
	})
	return g.Wait()
}

// closeSessions tears down every live session.
func (s *Server) closeSessions() {
	s.sessions.mu.Lock()
	ids := make([]string, 0, len(s.sessions.sessions))
	for id := range s.sessions.sessions {
		ids = append(ids, id)
	}
	s.sessions.mu.Unlock()
	for _, id := range ids {
		s.sessions.remove(id)
	}
}
