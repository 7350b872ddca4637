package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

const maxRedactionPatternLen = 200

// Config holds logging configuration.
type Config struct {
	Level     string            `koanf:"level"`
	Format    string            `koanf:"format"`
	Output    OutputConfig      `koanf:"output"`
	Sampling  SamplingConfig    `koanf:"sampling"`
	Caller    bool              `koanf:"caller"`
	Fields    map[string]string `koanf:"fields"`
	Redaction RedactionConfig   `koanf:"redaction"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig controls log volume reduction below Error.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	Initial    int           `koanf:"initial"`
	Thereafter int           `koanf:"thereafter"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns config with production defaults. Logs go to
// stderr so command output on stdout stays machine readable.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: OutputConfig{Stderr: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "skillloop"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// ZapLevel returns the parsed level. Validate reports parse errors.
func (c *Config) ZapLevel() zapcore.Level {
	l, _ := LevelFromString(c.Level)
	return l
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if _, err := LevelFromString(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return errors.New("at least one output must be enabled (stdout, stderr or otel)")
	}
	if c.Output.Stdout && c.Output.Stderr {
		return errors.New("stdout and stderr outputs are mutually exclusive")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return errors.New("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial < 0 || c.Sampling.Thereafter < 0 {
			return errors.New("sampling initial and thereafter must be >= 0")
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxRedactionPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxRedactionPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" {
			return errors.New("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
