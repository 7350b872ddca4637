package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := newLogger(cfg, nil, &buf)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())

	_, err = NewLogger(&Config{Format: "json"}, nil)
	assert.Error(t, err)
}

func TestLogger_WritesJSONWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)
	ctx := WithLoopID(context.Background(), "loop-1")

	logger.Info(ctx, "iteration recorded", zap.Float64("quality", 82.5))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "iteration recorded", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "skillloop", lines[0]["service"])
	assert.Equal(t, "loop-1", lines[0]["loop.id"])
	assert.InDelta(t, 82.5, lines[0]["quality"], 0.001)
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = "warn" })
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "hidden")
	logger.Warn(ctx, "shown")
	logger.Error(ctx, "shown too")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
}

func TestLogger_TraceLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = "trace" })

	logger.Trace(context.Background(), "matched term", zap.String("term", "retry"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.With(zap.String("github_token", "abc")).Info(context.Background(), "publishing with Bearer eyJhbGciOi",
		zap.String("api_key", "sk-123"),
		zap.String("stderr", "curl: Bearer eyJhbGciOi rejected"),
		zap.String("subject", "skillloop.signals.review"),
		zap.Int("attempt", 2),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["github_token"])
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "curl: [REDACTED] rejected", lines[0]["stderr"])
	assert.Equal(t, "publishing with [REDACTED]", lines[0]["msg"])
	assert.Equal(t, "skillloop.signals.review", lines[0]["subject"])
	assert.EqualValues(t, 2, lines[0]["attempt"])
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.Named("skills").With(zap.String("backend", "file"))
	child.Info(context.Background(), "skill saved")

	entries := tl.FilterMessage("skill saved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "skills", entries[0].LoggerName)
	assert.Equal(t, "file", entries[0].ContextMap()["backend"])
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "discarded")
	assert.False(t, l.Enabled(zapcore.ErrorLevel))
}
