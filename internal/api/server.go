// Package api serves reconciled date history and tracker connectivity over
// HTTP for the presentation layer.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/history"
	"github.com/sells-group/datemover/internal/points"
	"github.com/sells-group/datemover/internal/store"
	"github.com/sells-group/datemover/pkg/jira"
)

const serviceName = "datemover"

// Server holds the dependencies behind the HTTP routes.
type Server struct {
	client      jira.Client
	fetcher     *history.Fetcher
	fields      *config.FieldSet
	store       store.Store
	points      *points.Calculator
	metrics     http.Handler
	corsOrigins []string
	maxKeys     int
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the snapshot routes.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithPoints enables the story points route.
func WithPoints(c *points.Calculator) Option {
	return func(s *Server) { s.points = c }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithMaxKeys caps the issue keys accepted by one history request.
func WithMaxKeys(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// New creates a Server.
func New(client jira.Client, fetcher *history.Fetcher, fields *config.FieldSet, opts ...Option) *Server {
	s := &Server{
		client:      client,
		fetcher:     fetcher,
		fields:      fields,
		corsOrigins: []string{"*"},
		maxKeys:     200,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.NoCache)
		r.Get("/status", s.handleStatus)
		r.Post("/test-connection", s.handleTestConnection)
		r.Get("/fields", s.handleFields)
		r.Get("/history", s.handleHistory)
		r.Post("/history", s.handleHistory)
		r.Get("/history/{key}", s.handleIssueHistory)
		if s.store != nil {
			r.Get("/snapshots", s.handleSnapshots)
		}
		if s.points != nil {
			r.Get("/story-points", s.handleStoryPoints)
			r.Post("/story-points", s.handleStoryPoints)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found", Kind: kindNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: kindInvalidRequest})
	})
	return r
}

// HTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
