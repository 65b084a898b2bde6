// Package api exposes irrigation paths, their schedules, flow control and
// schedule sync over HTTP/JSON for the dashboard. Routing is chi; operations
// are declared with huma, which also serves the OpenAPI document at
// /openapi.json and interactive docs at /docs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/store"
	isync "github.com/gatemesh/pathsync/internal/sync"
	"github.com/gatemesh/pathsync/internal/topology"
	"github.com/gatemesh/pathsync/internal/transport"
)

// Config for the HTTP API handler.
type Config struct {
	Paths     *store.Updater
	Registry  registry.Registry
	Engine    *schedule.Engine
	Flow      *topology.FlowController
	Sync      *isync.Orchestrator
	Transport transport.Transport
	Logger    *slog.Logger

	// Now stamps schedule edits. Nil means time.Now.
	Now func() time.Time
}

type server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	results map[string]*isync.Result // last round per path, for retry
}

// New returns an HTTP handler exposing the pathsync API.
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &server{cfg: cfg, logger: cfg.Logger, results: make(map[string]*isync.Result)}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	api := humachi.New(router, huma.DefaultConfig("pathsync API", "1.0.0"))

	registerHealth(api)
	s.registerNodes(api)
	s.registerPaths(api)
	s.registerTopology(api)
	s.registerFlow(api)
	s.registerSchedules(api)
	s.registerSync(api)

	return router
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("api request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(_ context.Context, _ *struct{}) (*struct {
		Body map[string]string
	}, error) {
		return &struct {
			Body map[string]string
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (s *server) registerNodes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-nodes",
		Method:      http.MethodGet,
		Path:        "/nodes",
		Summary:     "List registry nodes",
	}, func(_ context.Context, _ *struct{}) (*struct {
		Body []NodeView
	}, error) {
		nodes := s.cfg.Registry.Nodes()
		out := make([]NodeView, len(nodes))

		for i, n := range nodes {
			out[i] = newNodeView(n)
		}

		return &struct {
			Body []NodeView
		}{Body: out}, nil
	})
}
