// Package api provides the HTTP server for search, availability, library
// lookup and monitor control.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kirjastokaveri/internal/model"
	"kirjastokaveri/internal/search"
)

// Searcher serves catalog searches and availability lookups.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*model.SearchResponse, error)
	Availability(ctx context.Context, recordID string, lat, lon *float64) (*model.AvailabilityResponse, error)
}

// Monitor is the availability job as seen by the API.
type Monitor interface {
	Run(ctx context.Context, triggeredBy string) (*model.JobResult, error)
	Status() model.JobStatus
}

// Libraries lists the library registry.
type Libraries interface {
	ListLibraries(ctx context.Context, city string) ([]model.Library, error)
}

// ServerOption configures the API server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	metrics     http.Handler
}

// WithMiddlewares adds middleware to the server.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// Routes holds handler dependencies.
type Routes struct {
	search    Searcher
	monitor   Monitor
	libraries Libraries
	log       *slog.Logger
}

// NewServer creates the HTTP router.
func NewServer(s Searcher, m Monitor, libs Libraries, log *slog.Logger, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	routes := &Routes{search: s, monitor: m, libraries: libs, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", routes.health)
	r.Route("/search", func(r chi.Router) {
		r.Get("/", routes.searchBooks)
		r.Get("/availability/{recordID}", routes.availability)
	})
	r.Get("/libraries", routes.listLibraries)
	r.Route("/monitor", func(r chi.Router) {
		r.Get("/status", routes.monitorStatus)
		r.Post("/run", routes.monitorRun)
	})
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	return r
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
