// Package server provides the HTTP API for kura.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/app"
	"github.com/hyperjump/kura/internal/metrics"
)

// Server is the HTTP server for the kura API.
type Server struct {
	app        *app.App
	logger     *zap.Logger
	metrics    *metrics.Metrics
	router     chi.Router
	server     *http.Server
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithConfigPath persists watch directory changes to the config file at path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates a server over the components of a.
func NewServer(a *app.App, opts ...Option) *Server {
	s := &Server{
		app:     a,
		logger:  a.Logger,
		metrics: a.Metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware(s.app.Config.Server.CORSOrigins))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleAddDocument)
		r.Post("/documents/batch", s.handleAddBatch)
		r.Delete("/documents", s.handleClear)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Patch("/documents/{id}", s.handleUpdateDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Post("/records", s.handleAddRecord)

		r.Post("/search", s.handleSearch)
		r.Post("/search/type", s.handleSearchByType)
		r.Post("/search/keyword", s.handleKeywordSearch)
		r.Post("/search/cross-silo", s.handleCrossSilo)

		r.Post("/recommendations", s.handleRecommend)
		r.Post("/analysis", s.handleAnalyze)

		r.Get("/stats", s.handleStats)
		r.Get("/status", s.handleStatus)
		r.Get("/patterns/statistics", s.handlePatternStatistics)
		r.Get("/crosssilo/stats", s.handleCrossSiloStats)
		r.Post("/crosssilo/rebuild", s.handleRebuild)

		r.Get("/watch/directories", s.handleWatchList)
		r.Post("/watch/directories", s.handleWatchAdd)
		r.Delete("/watch/directories", s.handleWatchRemove)
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	cfg := s.app.Config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs each request at debug level and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequest(route, r.Method, status)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}
