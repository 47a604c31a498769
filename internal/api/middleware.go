// Package api provides HTTP middleware for typeddag.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"typeddag/internal/ctxlog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// WithDefaults wraps a handler with standard middleware.
func WithDefaults(h http.Handler, logger *slog.Logger) http.Handler {
	return LoggingMiddleware(
		TimeoutMiddleware(h, 30*time.Second),
		logger,
	)
}

// LoggingMiddleware assigns a request id, attaches a request-scoped logger to
// the context and logs every request once it completes.
func LoggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		reqLogger := logger.With("request_id", reqID)
		ctx := ctxlog.WithLogger(r.Context(), reqLogger)

		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r.WithContext(ctx))

		level := slog.LevelInfo
		if lw.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		reqLogger.Log(ctx, level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"duration", time.Since(start),
		)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// TimeoutMiddleware adds a timeout to requests.
func TimeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(next, timeout, "request timeout")
}
