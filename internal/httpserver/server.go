// Package httpserver exposes the pipeline's health, task, metrics, and
// streaming surface over HTTP, grounded on the teacher's internal/server
// package: chi router, chi/middleware.Recoverer/RequestID/RealIP, go-chi/cors,
// and a request-logging middleware built the same way as the teacher's
// loggingMiddleware.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/sqryxz/mts-pipeline/internal/notify"
)

// Reporter is the subset of health.Reporter the server calls.
type Reporter interface {
	Ready() bool
}

// StatusProvider supplies the JSON-serializable health snapshot for
// /api/health. A plain function type keeps this package from depending on
// health.Status's concrete fields.
type StatusProvider func() any

// TasksProvider supplies the current TaskState table for /api/tasks, kept
// separate from StatusProvider so a caller that only wants task bookkeeping
// doesn't pull the whole health snapshot (cpu/mem/series/alerts) over the
// wire.
type TasksProvider func() any

// Server wires the chi router over the pipeline's read-only status surface
// and the websocket signal stream.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	reporter Reporter
	status   StatusProvider
	tasks    TasksProvider
	hub      *notify.Hub
}

// Config wires a Server.
type Config struct {
	Port     int
	DevMode  bool
	Reporter Reporter
	Status   StatusProvider
	Tasks    TasksProvider
	Hub      *notify.Hub
	Logger   zerolog.Logger
}

// New builds a Server with its routes registered but not yet listening.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Logger.With().Str("component", "httpserver").Logger(),
		reporter: cfg.Reporter,
		status:   cfg.Status,
		tasks:    cfg.Tasks,
		hub:      cfg.Hub,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))

	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleLiveness)
	s.router.Get("/readyz", s.handleReadiness)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleHealth) // same snapshot; metrics is the machine-readable alias
		r.Get("/tasks", s.handleTasks)
	})
	s.router.Get("/ws", s.handleWebSocket)
}

// handleLiveness always reports healthy once the process is up; it answers
// "is this process alive", not "is it doing useful work" (that's /readyz).
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.reporter != nil && !s.reporter.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "health reporting not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.log.Error().Err(err).Msg("failed to encode health response")
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task reporting not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.tasks()); err != nil {
		s.log.Error().Err(err).Msg("failed to encode tasks response")
	}
}

// handleWebSocket upgrades the connection and registers it with the Hub for
// the lifetime of the request; it blocks reading (and discarding) inbound
// frames purely to detect client disconnects, since this channel is
// server-to-client only.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "streaming not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	unregister := s.hub.Register(conn)
	defer unregister()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Start begins serving and blocks until the listener returns (including on
// graceful Shutdown, which surfaces as http.ErrServerClosed).
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests before closing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
