package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ktrace/pkg/logger"
	"github.com/okian/ktrace/pkg/metrics"
)

// HTTP status code constants.
const (
	statusBadRequest      = 400
	statusNotFound        = 404
	statusTooManyRequests = 429
	statusInternalError   = 500
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)
		if wrapped.statusCode >= statusBadRequest {
			metrics.RecordErrorByComponent("http", getErrorType(wrapped.statusCode))
		}
	}
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode == statusTooManyRequests:
		return "rate_limit"
	case statusCode == statusNotFound:
		return "not_found"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// authenticate checks the bearer API key unless authentication is disabled.
// A server with neither a key nor WithAuthDisabled rejects every request.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	const op = "api.authenticate"
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authDisabled {
			next(w, r)
			return
		}
		if s.apiKey == "" {
			s.logger.Warn(r.Context(), "request rejected, no api key configured", logger.String("path", r.URL.Path))
			s.writeError(w, r, WrapKind(op, ErrUnauthorized, errors.New("authentication is not configured")))
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			s.logger.Warn(r.Context(), "missing authorization header", logger.String("path", r.URL.Path))
			s.writeError(w, r, WrapKind(op, ErrUnauthorized, errors.New("missing Authorization header")))
			return
		}
		scheme, key, ok := strings.Cut(strings.TrimSpace(header), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			s.logger.Warn(r.Context(), "malformed authorization header", logger.String("path", r.URL.Path))
			s.writeError(w, r, WrapKind(op, ErrUnauthorized, errors.New("invalid Authorization header format")))
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(s.apiKey)) != 1 {
			s.logger.Warn(r.Context(), "invalid api key", logger.String("path", r.URL.Path))
			s.writeError(w, r, WrapKind(op, ErrUnauthorized, errors.New("invalid API key")))
			return
		}
		next(w, r)
	}
}

// requestLog assigns a request ID and logs each request at debug level.
func (s *Server) requestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)
		s.logger.Debug(r.Context(), "request",
			logger.String("request_id", id),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", wrapped.statusCode),
			logger.Duration("took", time.Since(start)),
		)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
