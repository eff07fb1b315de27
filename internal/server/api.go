package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/desolveai/desolve/internal/embed"
	"github.com/desolveai/desolve/internal/engine"
	"github.com/desolveai/desolve/internal/fetch"
	"github.com/desolveai/desolve/internal/llm"
	"github.com/desolveai/desolve/internal/observability"
	"github.com/desolveai/desolve/internal/session"
)

// BackendResolver builds the generation backend named by an ingestion
// request.
type BackendResolver func(name string) (llm.Backend, error)

// Config holds API server configuration.
type Config struct {
	ListenAddr     string
	DefaultBackend string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":8080", DefaultBackend: "gemini"}
}

// Server is the HTTP API for ingestion, querying and cleanup.
type Server struct {
	config   *Config
	engine   *engine.Engine
	embedder embed.Provider
	backends BackendResolver
	names    []string
	metrics  *observability.Metrics
	health   *HealthServer
	server   *http.Server
}

// NewServer creates the API server. names lists the selectable backends
// for GET /api/backends.
func NewServer(config *Config, eng *engine.Engine, embedder embed.Provider, backends BackendResolver, names []string, metrics *observability.Metrics) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:   config,
		engine:   eng,
		embedder: embedder,
		backends: backends,
		names:    names,
		metrics:  metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos", s.handleRepos)
	mux.HandleFunc("/api/repos/", s.handleRepoDetail)
	mux.HandleFunc("/api/backends", s.handleBackends)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/livez", s.handleLivez)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // ingestion is slow
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetHealth mounts a HealthServer behind /healthz, /readyz and /livez.
// Must be called before Start. When unset, /healthz reports a static ok.
func (s *Server) SetHealth(h *HealthServer) {
	s.health = h
}

// Start begins serving the API.
func (s *Server) Start() error {
	clog.FromContext(context.Background()).Info("starting API server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type ingestRequest struct {
	RepoURL string `json:"repo_url"`
	Backend string `json:"backend,omitempty"`
}

type askRequest struct {
	Issue    int    `json:"issue,omitempty"`
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

// handleRepos handles POST /api/repos (ingest a repository).
func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RepoURL == "" {
		respondError(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	backendName := req.Backend
	if backendName == "" {
		backendName = s.config.DefaultBackend
	}

	backend, err := s.backends(backendName)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := fetch.RepoName(req.RepoURL)
	result, err := s.engine.Ingest(r.Context(), key, req.RepoURL, s.embedder, backend)
	if err != nil {
		s.respondPipelineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// handleRepoDetail routes /api/repos/{key}, /api/repos/{key}/ask.
func (s *Server) handleRepoDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/repos/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if key, ok := strings.CutSuffix(rest, "/ask"); ok {
		s.handleAsk(w, r, key)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handleCleanup(w, r, rest)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := s.engine.Ask(r.Context(), key, req.Issue, req.Question)
	if err != nil {
		s.respondPipelineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, askResponse{Answer: answer})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.engine.Cleanup(r.Context(), key); err != nil {
		s.respondPipelineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBackends handles GET /api/backends.
func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"backends": s.names,
		"default":  s.config.DefaultBackend,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.handleHealth(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.handleReady(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.handleLive(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondPipelineError maps pipeline error kinds to HTTP status codes.
func (s *Server) respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var fe *fetch.FetchError
	switch {
	case errors.Is(err, session.ErrAlreadyBuilding):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, llm.ErrRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrUnavailable), errors.Is(err, embed.ErrUnavailable):
		status = http.StatusBadGateway
	case errors.As(err, &fe):
		switch fe.Kind {
		case fetch.KindNotFound:
			status = http.StatusNotFound
		case fetch.KindAuth:
			status = http.StatusBadGateway
		default:
			status = http.StatusBadGateway
		}
	case errors.Is(err, context.Canceled):
		status = 499 // client closed request
	}

	clog.FromContext(r.Context()).Warn("request failed", "path", r.URL.Path, "status", status, "error", err)
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// loggingMiddleware logs each request with method, path and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		clog.FromContext(r.Context()).Debug("request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
