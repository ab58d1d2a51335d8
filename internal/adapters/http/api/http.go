// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/ktrace/internal/app"
	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/logger"
)

const defaultMaxBodyBytes = 4 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	Trace(ctx context.Context, a model.Attempt) (service.Outcome, error)
	GenerateFeedback(ctx context.Context, a model.Attempt) (service.Outcome, string, error)
	TraceBatch(ctx context.Context, attempts []model.Attempt) ([]service.BatchResult, error)
	// Enqueue queues an attempt. duplicate is true when the attempt is
	// already queued.
	Enqueue(ctx context.Context, a model.Attempt) (jobID string, duplicate bool, err error)
	KnowledgeState(ctx context.Context, studentID, courseID string) (model.KnowledgeStateSnapshot, error)
	ReloadRegistry(ctx context.Context) (service.RegistryInfo, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps         Dependencies
	apiKey       string
	authDisabled bool
	maxBody      int64
	logger       logger.Logger

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires "Authorization: Bearer <key>" on /api routes.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithAuthDisabled serves /api routes without authentication. Without it and
// without a key every /api request is rejected.
func WithAuthDisabled(disabled bool) Option {
	return func(s *Server) { s.authDisabled = disabled }
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		maxBody:       defaultMaxBodyBytes,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	switch {
	case s.authDisabled:
		s.logger.Warn(ctx, "authentication is disabled, /api routes are unauthenticated")
	case s.apiKey == "":
		s.logger.Error(ctx, "api_key is not configured, /api routes reject every request")
	}

	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	routes := []struct {
		path     string
		endpoint string
		handler  http.HandlerFunc
	}{
		{"/api/generate_feedback", "generate_feedback", s.handleGenerateFeedback},
		{"/api/trace", "trace", s.handleTrace},
		{"/api/trace/async", "trace_async", s.handleTraceAsync},
		{"/api/trace/batch", "trace_batch", s.handleTraceBatch},
		{"/api/knowledge_state", "knowledge_state", s.handleKnowledgeState},
		{"/api/registry/reload", "registry_reload", s.handleRegistryReload},
	}
	for _, rt := range routes {
		mux.HandleFunc(rt.path, MetricsMiddleware(s.requestLog(s.authenticate(rt.handler)), rt.endpoint))
	}
}

type errorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status and code err maps to. Server errors
// are logged and their details withheld from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("code", code),
			logger.Error(err),
		)
		msg = internalMessage
	}
	writeJSON(w, status, errorResponse{Status: "error", Code: code, Message: msg})
}

// allow rejects requests not using method.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, op, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.writeError(w, r, NewKind(op, ErrMethodNotAllowed))
	return false
}

// decode reads a JSON body into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewKind(op, fmt.Errorf("%w: empty body", ErrBadRequest))
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}
