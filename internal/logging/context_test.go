package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"].String)
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"].String)
	assert.Contains(t, fields, "trace_sampled")
}

func TestContextFields_IDs(t *testing.T) {
	ctx := WithLoopID(context.Background(), "loop-abc")
	ctx = WithSessionID(ctx, "a1b2c3d4e5f6")
	ctx = WithRequestID(ctx, "req_9")

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, "loop-abc", fields["loop.id"].String)
	assert.Equal(t, "a1b2c3d4e5f6", fields["session.id"].String)
	assert.Equal(t, "req_9", fields["request.id"].String)

	assert.Equal(t, "loop-abc", LoopIDFromContext(ctx))
	assert.Equal(t, "a1b2c3d4e5f6", SessionIDFromContext(ctx))
	assert.Equal(t, "req_9", RequestIDFromContext(ctx))
}

func TestWithIDs_InvalidPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"empty loop", func() { WithLoopID(context.Background(), "") }},
		{"slash session", func() { WithSessionID(context.Background(), "a/b") }},
		{"space request", func() { WithRequestID(context.Background(), "req 1") }},
		{"too long", func() { WithSessionID(context.Background(), strings.Repeat("a", maxIDLen+1)) }},
		{"invalid utf8", func() { WithLoopID(context.Background(), "\xff") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}

func TestLogger_InContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	require.Same(t, tl.Logger, FromContext(ctx))

	FromContext(context.Background()).Info(ctx, "dropped")
	assert.Empty(t, tl.All())
}
