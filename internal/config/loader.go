package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKILLLOOP_"

const maxConfigFileSize = 1024 * 1024

// nestedGroups lists second-level sections that env keys can reach, so
// SKILLLOOP_LOGGING_OUTPUT_STDOUT maps to logging.output.stdout.
var nestedGroups = map[string][]string{
	"logging":   {"output", "sampling", "redaction"},
	"telemetry": {"sampling", "metrics", "shutdown"},
}

// Load reads configuration with this precedence (highest first):
//  1. SKILLLOOP_* environment variables
//  2. the YAML file at path
//  3. Default()
//
// An empty path tries ~/.config/skillloop/config.yaml and skips it when
// absent. An explicit path must exist. Config files must sit under
// ~/.config/skillloop, /etc/skillloop or the working directory, be at most
// 1MB, and carry 0600 or 0400 permissions.
//
// Env keys split on the first underscore after the prefix:
//
//	SKILLLOOP_LOOP_MAX_ITERATIONS -> loop.max_iterations
//	SKILLLOOP_SKILLS_AUTO_PROMOTE -> skills.auto_promote
//	SKILLLOOP_REVIEW_NATS_URL     -> review.nats_url
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = filepath.Join(defaultBaseDir(), "config.yaml")
	}
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps SKILLLOOP_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	for _, group := range nestedGroups[section] {
		if rest, found := strings.CutPrefix(field, group+"_"); found {
			return section + "." + group + "." + rest
		}
	}
	return section + "." + field
}

// readConfigFile opens once and validates through the descriptor to avoid
// a TOCTOU race between the checks and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks the resolved path is in an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Paths that do not exist yet are checked as given.
		resolved = absPath
	}

	allowed := []string{defaultBaseDir(), "/etc/skillloop"}
	if wd, err := os.Getwd(); err == nil {
		allowed = append(allowed, wd)
	}
	for _, dir := range allowed {
		if within(resolved, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/skillloop/, /etc/skillloop/ or the working directory")
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// expandPaths resolves a leading ~ in directory settings.
func (c *Config) expandPaths() {
	for _, p := range []*string{&c.Skills.Dir, &c.Skills.FeedbackDir, &c.Skills.BadgerPath, &c.Skills.ExportDir} {
		*p = expandHome(*p)
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// EnsureDirs creates the skill and feedback directories with 0700.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Skills.Dir, c.Skills.FeedbackDir}
	if c.Skills.Backend == BackendBadger {
		dirs = []string{c.Skills.BadgerPath}
	}
	if c.Skills.ExportDir != "" {
		dirs = append(dirs, c.Skills.ExportDir)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
