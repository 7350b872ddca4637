package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/skillloop/internal/loop"
	"github.com/fyrsmithlabs/skillloop/internal/review"
)

func TestDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, 70.0, cfg.Loop.QualityThreshold)
	assert.True(t, cfg.Loop.ReviewEnabled)
	assert.Equal(t, BackendFile, cfg.Skills.Backend)
	assert.Equal(t, filepath.Join(home, ".config", "skillloop", "skills", "learned"), cfg.Skills.Dir)
	assert.Equal(t, filepath.Join(home, ".config", "skillloop", "feedback"), cfg.Skills.FeedbackDir)
	assert.Equal(t, 3, cfg.Skills.MaxInjected)
	assert.Equal(t, review.DefaultSubjectPrefix, cfg.Review.SubjectPrefix)
	assert.Equal(t, "127.0.0.1:9191", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Scorer.Timeout.Duration())
}

func TestConfig_LoopConfig(t *testing.T) {
	cfg := Default()
	cfg.Loop.MaxIterations = 9
	cfg.Loop.Timeout = Duration(2 * time.Minute)
	cfg.Loop.ReviewType = "security"
	cfg.Loop.ReviewWait = Duration(5 * time.Second)

	lc := cfg.LoopConfig()
	assert.Equal(t, 9, lc.MaxIterations)
	assert.Equal(t, loop.HardMaxIterations, lc.EffectiveMaxIterations())
	assert.Equal(t, 2*time.Minute, lc.Timeout)
	assert.Equal(t, review.ReviewType("security"), lc.ReviewType)
	assert.Equal(t, 5*time.Second, lc.ReviewWait)
	assert.NoError(t, cfg.Validate(), "an oversized iteration budget is clamped, not rejected")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"threshold above 100", func(c *Config) { c.Loop.QualityThreshold = 120 }, "invalid loop config"},
		{"negative improvement", func(c *Config) { c.Loop.MinImprovement = -1 }, "invalid loop config"},
		{"unknown review type", func(c *Config) { c.Loop.ReviewType = "deep" }, "invalid loop config"},
		{"scorer without timeout", func(c *Config) { c.Scorer.Command = "score"; c.Scorer.Timeout = 0 }, "scorer.timeout"},
		{"unknown backend", func(c *Config) { c.Skills.Backend = "sqlite" }, "skills.backend"},
		{"file backend without dir", func(c *Config) { c.Skills.Dir = "" }, "skills.dir"},
		{"badger without path", func(c *Config) { c.Skills.Backend = BackendBadger; c.Skills.BadgerPath = "" }, "badger_path"},
		{"badger watch", func(c *Config) { c.Skills.Backend = BackendBadger; c.Skills.Watch = true }, "skills.watch"},
		{"negative max injected", func(c *Config) { c.Skills.MaxInjected = -1 }, "max_injected"},
		{"min quality range", func(c *Config) { c.Skills.MinQuality = 101 }, "min_quality"},
		{"wildcard prefix", func(c *Config) { c.Review.NATSURL = "nats://x"; c.Review.SubjectPrefix = "a.*" }, "subject_prefix"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad logging", func(c *Config) { c.Logging.Format = "xml" }, "logging"},
		{"bad telemetry", func(c *Config) { c.Telemetry.ServiceName = "" }, "telemetry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Skills.MaxInjected = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "max_injected")
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	js, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(js))

	require.NoError(t, d.UnmarshalText([]byte(" 300 ")))
	assert.Equal(t, 5*time.Minute, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
