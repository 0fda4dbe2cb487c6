// Package server exposes the agent over HTTP for the container's
// published port: query and ingest endpoints, health probes, and
// prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auhdhd/knowledge-agent/pkg/agent"
	"github.com/auhdhd/knowledge-agent/pkg/ingest"
	"github.com/auhdhd/knowledge-agent/pkg/retrieval"
)

// Config holds server settings.
type Config struct {
	ListenAddr      string        `json:"listen_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

// DefaultConfig returns the serving defaults. The listen address
// matches the port the container publishes.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8000",
		ShutdownTimeout: 15 * time.Second,
		RequestTimeout:  5 * time.Minute,
	}
}

// Readiness is implemented by the vector store wiring; the server
// reports ready once the store has been prepared.
type Readiness interface {
	EnsureReady(ctx context.Context) error
}

// Server serves the agent API.
type Server struct {
	config   *Config
	agent    *agent.Agent
	pipeline *ingest.Pipeline
	store    Readiness
	logger   *slog.Logger

	httpServer *http.Server
	ready      atomic.Bool
	boundAddr  atomic.Value // string

	ingestMu      sync.Mutex
	ingestRunning bool
}

// New creates a server. pipeline may be nil to disable the ingest
// endpoint (read-only deployments).
func New(config *Config, ag *agent.Agent, pipeline *ingest.Pipeline, store Readiness) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:   config,
		agent:    ag,
		pipeline: pipeline,
		store:    store,
		logger:   slog.Default().With("component", "http-server"),
	}

	router := mux.NewRouter()
	router.Use(s.logMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains connections. The
// listener comes up before the store is prepared so the health probes
// answer during initialization; readyz reports 503 until preparation
// finishes.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.ListenAddr, err)
	}
	s.boundAddr.Store(listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if err := s.store.EnsureReady(ctx); err != nil {
		s.shutdown()
		return fmt.Errorf("preparing vector store: %w", err)
	}
	s.ready.Store(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down", "timeout", s.config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Addr reports the bound listen address once Run has started, empty
// before that. With a ":0" listen address it carries the assigned port.
func (s *Server) Addr() string {
	if v := s.boundAddr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Answer    string             `json:"answer"`
	Grounded  bool               `json:"grounded"`
	Sources   []retrieval.Source `json:"sources,omitempty"`
	RequestID string             `json:"request_id"`
	ElapsedMS float64            `json:"elapsed_ms"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := s.agent.Ask(r.Context(), req.SessionID, req.Query)
	if err != nil {
		// The agent produces a user-facing message even on retrieval
		// failure; only a missing answer is a hard 500.
		if answer == nil {
			s.logger.Error("query failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "query processing failed")
			return
		}
		s.logger.Warn("query degraded", "error", err)
	}

	s.writeJSON(w, http.StatusOK, queryResponse{
		Answer:    answer.Text,
		Grounded:  answer.Grounded,
		Sources:   answer.Sources,
		RequestID: answer.RequestID,
		ElapsedMS: float64(answer.Elapsed.Milliseconds()),
	})
}

type ingestRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, http.StatusNotImplemented, "ingestion is disabled")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Paths) == 0 {
		s.writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	// Single-flight: concurrent ingests would race on the store.
	s.ingestMu.Lock()
	if s.ingestRunning {
		s.ingestMu.Unlock()
		s.writeError(w, http.StatusConflict, "an ingestion is already running")
		return
	}
	s.ingestRunning = true
	s.ingestMu.Unlock()
	defer func() {
		s.ingestMu.Lock()
		s.ingestRunning = false
		s.ingestMu.Unlock()
	}()

	stats, err := s.pipeline.Run(r.Context(), req.Paths)
	if err != nil {
		s.logger.Error("ingestion failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "vector store not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("writing response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"elapsed", time.Since(start),
		)
	})
}
