package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/telemetry"
	"github.com/vertextoedge/story-offline-cache/internal/util/idle"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware adds request logging
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", rw.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

// MetricsMiddleware records request counts and latency
func MetricsMiddleware(metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			metrics.RecordHTTP(r.Method, telemetry.StatusClass(rw.statusCode), time.Since(start).Seconds())
		})
	}
}

// ActivityMiddleware marks foreground activity so idle-time work backs off.
// Background endpoints (metrics scrapes, download polling) do not count.
func ActivityMiddleware(tracker *idle.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isForeground(r) {
				next.ServeHTTP(w, r)
				return
			}
			tracker.Begin()
			defer tracker.End()
			next.ServeHTTP(w, r)
		})
	}
}

func isForeground(r *http.Request) bool {
	switch {
	case r.URL.Path == "/metrics", r.URL.Path == "/health":
		return false
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/download"):
		return false
	}
	return true
}
