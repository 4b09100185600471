// Package api exposes a read-only HTTP status view over persisted analysis
// sessions. It never mutates state; scans run through the CLI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/logging"
	"github.com/vulnhound/vulnhound/internal/service"
)

// Server serves session listings, stats, and reports.
type Server struct {
	router  chi.Router
	store   core.StateStore
	logger  *logging.Logger
	version string
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion reports a build version from /health.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer creates the status API over a state store.
func NewServer(store core.StateStore, opts ...ServerOption) *Server {
	s := &Server{
		store:   store,
		logger:  logging.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/stats", s.handleGlobalStats)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/stats", s.handleSessionStats)
			r.Get("/report", s.handleSessionReport)
		})
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	summaries, err := s.store.List()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	stats, err := s.store.Stats(id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	minConfidence := 0
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 10 {
			respondError(w, http.StatusBadRequest, "min_confidence must be an integer from 0 to 10")
			return
		}
		minConfidence = v
	}

	respondJSON(w, http.StatusOK, service.BuildReport(session, minConfidence))
}

func (s *Server) handleGlobalStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.store.GlobalStats()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*core.AnalysisSession, bool) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	session, err := s.store.Load(id)
	if err != nil {
		s.respondStoreError(w, err)
		return nil, false
	}
	return session, true
}

// respondStoreError maps domain error categories onto HTTP statuses.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	var domainErr *core.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Category {
		case core.ErrCatNotFound:
			respondError(w, http.StatusNotFound, domainErr.Message)
			return
		case core.ErrCatValidation:
			respondError(w, http.StatusBadRequest, domainErr.Message)
			return
		}
	}
	s.logger.Error("store request failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting status API", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
