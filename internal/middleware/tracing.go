// Package middleware provides HTTP middleware shared by the public, admin
// and ops listeners.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/beatgate/beatgate/pkg/logger"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// TraceID returns the request trace ID from the context, if any.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// Tracing propagates or generates an X-Trace-ID header and logs each request
// with its status and duration.
func Tracing(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), traceIDKey, traceID)
			w.Header().Set("X-Trace-ID", traceID)

			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rw, r.WithContext(ctx))

			log.WithField("trace_id", traceID).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", rw.status).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Debug("request handled")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
