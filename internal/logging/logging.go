// Package logging carries request-scoped identity through contexts and
// provides request/security logging on top of the platform logger.
package logging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/appforge-labs/appforge/pkg/logger"
)

type contextKey string

// Context keys for request-scoped values.
const (
	UserIDKey  contextKey = "user_id"
	TraceIDKey contextKey = "trace_id"
)

// WithUserID stores the authenticated user ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the authenticated user ID, or "".
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID generates a trace identifier for a request.
func NewTraceID() string { return uuid.NewString() }

// WithTraceID stores the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger decorates the platform logger with context-derived fields.
type Logger struct {
	base *logger.Logger
}

// NewLogger wraps a platform logger. A nil base gets a default logger.
func NewLogger(base *logger.Logger) *Logger {
	if base == nil {
		base = logger.NewDefault("http")
	}
	return &Logger{base: base}
}

// WithContext returns a logger carrying the trace and user fields found in
// ctx, ready for further chaining.
func (l *Logger) WithContext(ctx context.Context) *logger.Logger {
	out := l.base
	if traceID := GetTraceID(ctx); traceID != "" {
		out = out.WithField("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		out = out.WithField("user_id", userID)
	}
	return out
}

// LogRequest records one HTTP request at a level derived from its status.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logger.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent records an auth or abuse event with its context fields.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithField("security_event", event).WithFields(logger.Fields(fields)).Warn("security event")
}
