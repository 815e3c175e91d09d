package httpapi

import (
	"net/http"
	"strings"
	"time"

	"qms/queue-service/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware assigns a request id when the caller sent none, then logs
// and counts every request.
func LoggingMiddleware(logger *zap.Logger, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestIDFromRequest(r)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)

		route := routeLabel(r.URL.Path)
		m.ObserveRequest(r.Method, route, writer.status, duration)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("request_id", requestID))
	})
}

// routeLabel collapses id-bearing paths so metric labels stay bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/tickets/"):
		return "/api/tickets/{id}"
	case strings.HasPrefix(path, "/api/admin/archive/"):
		return "/api/admin/archive/{id}"
	}
	switch path {
	case "/healthz", "/metrics", "/api/tickets", "/api/queues", "/api/admin/cleanup",
		"/api/queues/actions/call-next", "/api/queues/actions/skip",
		"/api/queues/actions/complete", "/api/queues/actions/reset":
		return path
	default:
		return "other"
	}
}
