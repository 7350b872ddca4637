package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, zapcore.InfoLevel, cfg.ZapLevel())
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stderr)
	assert.False(t, cfg.Output.Stdout)
	assert.Equal(t, time.Second, cfg.Sampling.Tick)
	assert.Equal(t, "skillloop", cfg.Fields["service"])
	assert.True(t, cfg.Redaction.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.Level = "loud" }, "invalid level"},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format must be"},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, "at least one output"},
		{"stdout and stderr", func(c *Config) { c.Output.Stdout = true }, "mutually exclusive"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"negative thereafter", func(c *Config) { c.Sampling.Thereafter = -1 }, "thereafter"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"[unclosed"} }, "invalid redaction pattern"},
		{"long pattern", func(c *Config) { c.Redaction.Patterns = []string{string(make([]byte, 201))} }, "too long"},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "v"} }, "field key"},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"k": ""} }, "empty value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateSkipsDisabledSections(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Sampling.Tick = 0
	cfg.Redaction.Enabled = false
	cfg.Redaction.Patterns = []string{"[unclosed"}
	assert.NoError(t, cfg.Validate())
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"trace", TraceLevel},
		{"TRACE", TraceLevel},
		{"debug", zapcore.DebugLevel},
		{"Info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{" err ", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LevelFromString("verbose")
	assert.Error(t, err)
}
