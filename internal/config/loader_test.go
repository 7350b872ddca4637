package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
loop:
  max_iterations: 4
  quality_threshold: 80
  timeout: 2m
  review_wait: 3s
scorer:
  command: /usr/local/bin/score
  args: ["--strict"]
  timeout: 45s
skills:
  backend: badger
  badger_path: ~/skills-db
  auto_promote: true
  max_injected: 2
review:
  nats_url: nats://127.0.0.1:4222
  subject_prefix: team.review
logging:
  level: debug
  format: console
  fields:
    env: test
telemetry:
  metrics:
    enabled: false
`

// setupHome points HOME at a temp dir and returns the skillloop config dir.
func setupHome(t *testing.T) (home, dir string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	dir = filepath.Join(home, ".config", "skillloop")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	return home, dir
}

func writeConfig(t *testing.T, dir, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_YAML(t *testing.T) {
	home, dir := setupHome(t)
	path := writeConfig(t, dir, sampleYAML, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Loop.MaxIterations)
	assert.Equal(t, 80.0, cfg.Loop.QualityThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Loop.Timeout.Duration())
	assert.Equal(t, 3*time.Second, cfg.Loop.ReviewWait.Duration())
	assert.Equal(t, 5.0, cfg.Loop.MinImprovement, "unset keys keep defaults")
	assert.Equal(t, "/usr/local/bin/score", cfg.Scorer.Command)
	assert.Equal(t, []string{"--strict"}, cfg.Scorer.Args)
	assert.Equal(t, 45*time.Second, cfg.Scorer.Timeout.Duration())
	assert.Equal(t, BackendBadger, cfg.Skills.Backend)
	assert.Equal(t, filepath.Join(home, "skills-db"), cfg.Skills.BadgerPath)
	assert.True(t, cfg.Skills.AutoPromote)
	assert.True(t, cfg.Skills.Enabled)
	assert.Equal(t, 2, cfg.Skills.MaxInjected)
	assert.Equal(t, "team.review", cfg.Review.SubjectPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "test", cfg.Logging.Fields["env"])
	assert.Equal(t, "skillloop", cfg.Logging.Fields["service"])
	assert.False(t, cfg.Telemetry.Metrics.Enabled)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	_, dir := setupHome(t)
	path := writeConfig(t, dir, sampleYAML, 0o600)

	t.Setenv("SKILLLOOP_LOOP_MAX_ITERATIONS", "2")
	t.Setenv("SKILLLOOP_SKILLS_AUTO_PROMOTE", "false")
	t.Setenv("SKILLLOOP_REVIEW_NATS_URL", "nats://nats:4222")
	t.Setenv("SKILLLOOP_LOGGING_OUTPUT_STDOUT", "true")
	t.Setenv("SKILLLOOP_LOGGING_OUTPUT_STDERR", "false")
	t.Setenv("SKILLLOOP_TELEMETRY_SHUTDOWN_TIMEOUT", "9s")
	t.Setenv("SKILLLOOP_SERVER_PORT", "8088")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Loop.MaxIterations)
	assert.False(t, cfg.Skills.AutoPromote)
	assert.Equal(t, "nats://nats:4222", cfg.Review.NATSURL)
	assert.True(t, cfg.Logging.Output.Stdout)
	assert.False(t, cfg.Logging.Output.Stderr)
	assert.Equal(t, 9*time.Second, cfg.Telemetry.Shutdown.Timeout)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestLoad_DefaultPathMissing(t *testing.T) {
	setupHome(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, dir := setupHome(t)

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, dir := setupHome(t)
	path := writeConfig(t, dir, "loop: [unclosed", 0o600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, dir := setupHome(t)
	path := writeConfig(t, dir, "skills:\n  backend: sqlite\n", 0o600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skills.backend")
}

func TestLoad_PathOutsideAllowedDirs(t *testing.T) {
	setupHome(t)
	other := t.TempDir()
	path := writeConfig(t, other, sampleYAML, 0o600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path validation")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	_, dir := setupHome(t)
	path := writeConfig(t, dir, sampleYAML, 0o644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ReadOnlyPermissionsAllowed(t *testing.T) {
	_, dir := setupHome(t)
	path := writeConfig(t, dir, sampleYAML, 0o400)

	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoad_FileTooLarge(t *testing.T) {
	_, dir := setupHome(t)
	body := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, body, 0o600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SKILLLOOP_LOOP_MAX_ITERATIONS":       "loop.max_iterations",
		"SKILLLOOP_SKILLS_DIR":                "skills.dir",
		"SKILLLOOP_LOGGING_SAMPLING_TICK":     "logging.sampling.tick",
		"SKILLLOOP_LOGGING_LEVEL":             "logging.level",
		"SKILLLOOP_TELEMETRY_METRICS_ENABLED": "telemetry.metrics.enabled",
		"SKILLLOOP_TELEMETRY_SERVICE_NAME":    "telemetry.service_name",
		"SKILLLOOP_DEBUG":                     "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestEnsureDirs(t *testing.T) {
	setupHome(t)
	cfg := Default()
	root := t.TempDir()
	cfg.Skills.Dir = filepath.Join(root, "skills")
	cfg.Skills.FeedbackDir = filepath.Join(root, "feedback")
	cfg.Skills.ExportDir = filepath.Join(root, "export")

	require.NoError(t, cfg.EnsureDirs())
	for _, d := range []string{cfg.Skills.Dir, cfg.Skills.FeedbackDir, cfg.Skills.ExportDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
