package middleware

import (
	"net/http"
	"time"

	"github.com/appforge-labs/appforge/internal/logging"
)

// TracingMiddleware assigns each request a trace ID and logs its outcome.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates tracing middleware.
func NewTracingMiddleware(log *logging.Logger) *TracingMiddleware {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	return &TracingMiddleware{logger: log}
}

// Handler propagates the caller's X-Trace-ID or generates one, echoes it on
// the response, and logs method, path, status and duration.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r.WithContext(ctx))

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
