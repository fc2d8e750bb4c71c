// Package logging provides trace-aware request logging and the context keys
// shared by middleware and handlers.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// UserIDKey carries the authenticated user ID through request context.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the authenticated role through request context.
	RoleKey contextKey = "role"

	traceIDKey contextKey = "trace_id"
)

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context, or empty.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID returns the authenticated user ID from the context, or empty.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRole returns the authenticated role from the context, or empty.
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(RoleKey).(string); ok {
		return v
	}
	return ""
}

// Logger emits JSON access and security logs. Application logging goes
// through pkg/logger; this logger is for the request path where one line
// per event with stable keys matters more than formatting options.
type Logger struct {
	zl zerolog.Logger
}

// New creates a request logger writing JSON lines to stdout.
func New(component string) *Logger {
	return NewWithWriter(component, os.Stdout)
}

// NewWithWriter creates a request logger writing to w. Used by tests.
func NewWithWriter(component string, w io.Writer) *Logger {
	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &Logger{zl: zl}
}

// WithContext returns a logger annotated with the trace ID and user ID
// carried by ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	zctx := l.zl.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		zctx = zctx.Str("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		zctx = zctx.Str("user_id", userID)
	}
	return &Logger{zl: zctx.Logger()}
}

// WithError returns a logger annotated with err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithFields returns a logger annotated with the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

// LogRequest emits one access-log line for a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.zl.Info().
		Str("trace_id", GetTraceID(ctx)).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("http_request")
}

// LogSecurityEvent emits a warning-level line for auth and abuse events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, details map[string]interface{}) {
	l.zl.Warn().
		Str("trace_id", GetTraceID(ctx)).
		Str("event", event).
		Fields(details).
		Msg("security_event")
}
