// Package server provides the HTTP REST API of the session runner.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/lifecycle"
	"github.com/jonathan/session-runner/internal/observability"
	"github.com/jonathan/session-runner/internal/runstate"
	"github.com/jonathan/session-runner/internal/server/middleware"
)

// RunService is the run lifecycle as seen by the HTTP layer. lifecycle.Controller implements it.
type RunService interface {
	CreateOrResume(ctx context.Context, userID, sessionID uuid.UUID, idempotencyKey string) (*lifecycle.StartResult, error)
	GetRun(ctx context.Context, userID, runID uuid.UUID) (*lifecycle.Snapshot, error)
	SaveProgressJSON(ctx context.Context, userID, runID uuid.UUID, history []string, historyIndex int, inputs json.RawMessage) (*lifecycle.SaveResult, error)
	Dispatch(ctx context.Context, userID, runID uuid.UUID, action runstate.Action) (*lifecycle.NavResult, error)
	Complete(ctx context.Context, userID, runID uuid.UUID) (*db.SessionRun, error)
	Abandon(ctx context.Context, userID, runID uuid.UUID, reason string) (*db.SessionRun, error)
}

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	runs       RunService
	health     Pinger
	tokens     middleware.TokenValidator
	onShutdown []func()
}

// Config holds server configuration
type Config struct {
	Port int
}

// New creates a new server instance. health may be nil.
func New(cfg Config, runs RunService, health Pinger, tokens middleware.TokenValidator) *Server {
	s := &Server{
		runs:   runs,
		health: health,
		tokens: tokens,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped router
func (s *Server) Handler() http.Handler {
	auth := middleware.AuthMiddleware(s.tokens)

	api := http.NewServeMux()
	api.HandleFunc("POST /sessions/{session_id}/runs", s.handleCreateOrResumeRun)
	api.HandleFunc("GET /runs/{run_id}", s.handleGetRun)
	api.HandleFunc("PUT /runs/{run_id}/progress", s.handleSaveProgress)
	api.HandleFunc("POST /runs/{run_id}/actions", s.handleRunAction)
	api.HandleFunc("POST /runs/{run_id}/complete", s.handleCompleteRun)
	api.HandleFunc("POST /runs/{run_id}/abandon", s.handleAbandonRun)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.Handle("/", auth(api))

	return s.withLogging(s.withCORS(mux))
}

// OnShutdown registers a hook run after the HTTP server stops
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	for _, fn := range s.onShutdown {
		fn()
	}
	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[%s] %s %d in %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
