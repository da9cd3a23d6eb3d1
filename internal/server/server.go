// Package server provides the HTTP API for dalil.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/dalil/internal/app"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/evaluation"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/pkg/utils"
)

// Backend is what the API exposes. *app.App implements it.
type Backend interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.AgentResponse, error)
	Ingest(ctx context.Context) (*models.IngestResult, error)
	Evaluate(ctx context.Context) (*evaluation.Report, error)
	Status(ctx context.Context) (*app.Status, error)
	Documents(ctx context.Context, offset, limit int) ([]models.CatalogDocument, error)
}

// RequestObserver records per-route request metrics.
type RequestObserver interface {
	ObserveHTTPRequest(route string, code int, d time.Duration)
}

// Server is the HTTP server for the dalil API.
type Server struct {
	backend  Backend
	config   *config.ServerConfig
	logger   *zap.Logger
	observer RequestObserver
	metrics  http.Handler
	limiter  *rate.Limiter
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics through o and serves h on /metrics.
func WithMetrics(o RequestObserver, h http.Handler) Option {
	return func(s *Server) {
		s.observer = o
		s.metrics = h
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(backend Backend, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.RateBurst))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(s.rateLimit)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/query", s.handleQuery)
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/status", s.handleStatus)
		r.Get("/documents", s.handleDocuments)
	})

	r.Post("/ingest", s.handleIngest)
	r.Post("/query", s.handleQuery)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)
		if s.observer != nil {
			s.observer.ObserveHTTPRequest(route, status, took)
		}
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", took),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.respondJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
