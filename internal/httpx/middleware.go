package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ledgerforge/ops/internal/metrics"
)

type contextKey int

const requestIDKey contextKey = iota

// RequestIDHeader is the header carrying the request id, inbound or outbound.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns a request id to every incoming request: the inbound
// X-Request-Id header if present, otherwise a random 128-bit value. The id
// is stored in the request context and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func newRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unavailable"
	}
	return hex.EncodeToString(b)
}

// statusWriter wraps http.ResponseWriter to capture the status code written.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// LogFields lets a handler attach extra observability fields (user_id,
// job_id, stripe_event_id) to the per-request log line emitted by Logger.
// Handlers retrieve the map via LogFieldsFromContext and set keys on it.
type LogFields map[string]any

type logFieldsKey struct{}

// LogFieldsFromContext returns the mutable log-fields map for the current
// request, attaching one-per-request via the Logger middleware.
func LogFieldsFromContext(ctx context.Context) LogFields {
	if v, ok := ctx.Value(logFieldsKey{}).(LogFields); ok {
		return v
	}
	return nil
}

// Logger returns a middleware that logs one structured line per request:
// method, path, status, latency_ms, request_id, and any fields a handler
// attached via LogFieldsFromContext (user_id, job_id, stripe_event_id).
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fields := LogFields{}
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			r = r.WithContext(ctx)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			latency := time.Since(start)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"latency_ms", float64(latency.Microseconds()) / 1000.0,
				"request_id", RequestIDFromContext(r.Context()),
			}
			for k, v := range fields {
				args = append(args, k, v)
			}
			logger.Info("http_request", args...)
		})
	}
}

// Metrics returns a middleware that records request duration and count via
// Prometheus, labeled by method, route pattern, and status class.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"method": r.Method,
			"path":   routePattern(r),
		}).Observe(time.Since(start).Seconds())

		metrics.HTTPRequestsTotal.With(prometheus.Labels{
			"method": r.Method,
			"path":   routePattern(r),
			"status": statusClass(sw.status),
		}).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
