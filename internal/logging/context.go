package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type loopCtxKey struct{}
type sessionCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := LoopIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("loop.id", id))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

func withID(ctx context.Context, key any, id, name string) context.Context {
	if err := validateID(id, name); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, key, id)
}

func stringValue(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithLoopID adds a loop id to context.
// Panics if loopID is empty or contains invalid characters.
func WithLoopID(ctx context.Context, loopID string) context.Context {
	return withID(ctx, loopCtxKey{}, loopID, "loopID")
}

// LoopIDFromContext extracts the loop id from context.
func LoopIDFromContext(ctx context.Context) string {
	return stringValue(ctx, loopCtxKey{})
}

// WithSessionID adds a learning session id to context.
// Panics if sessionID is empty or contains invalid characters.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return withID(ctx, sessionCtxKey{}, sessionID, "sessionID")
}

// SessionIDFromContext extracts the session id from context.
func SessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionCtxKey{})
}

// WithRequestID adds a request id to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withID(ctx, requestCtxKey{}, requestID, "requestID")
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey{})
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
