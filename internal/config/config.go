// Package config loads skillloop configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/skillloop/internal/logging"
	"github.com/fyrsmithlabs/skillloop/internal/loop"
	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/secrets"
	"github.com/fyrsmithlabs/skillloop/internal/telemetry"
)

// Skill store backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config holds the complete skillloop configuration.
type Config struct {
	Loop      LoopConfig       `koanf:"loop"`
	Scorer    ScorerConfig     `koanf:"scorer"`
	Skills    SkillsConfig     `koanf:"skills"`
	Review    ReviewConfig     `koanf:"review"`
	Server    ServerConfig     `koanf:"server"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Secrets   secrets.Config   `koanf:"secrets"`
}

// LoopConfig mirrors loop.Config in file form.
type LoopConfig struct {
	MaxIterations       int      `koanf:"max_iterations"`
	MinImprovement      float64  `koanf:"min_improvement"`
	QualityThreshold    float64  `koanf:"quality_threshold"`
	OscillationWindow   int      `koanf:"oscillation_window"`
	StagnationThreshold float64  `koanf:"stagnation_threshold"`
	Timeout             Duration `koanf:"timeout"`
	ReviewEnabled       bool     `koanf:"review_enabled"`
	ReviewerModel       string   `koanf:"reviewer_model"`
	ReviewType          string   `koanf:"review_type"`
	ReviewWait          Duration `koanf:"review_wait"`
}

// ScorerConfig configures the optional external quality scorer.
type ScorerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Timeout Duration `koanf:"timeout"`
}

// SkillsConfig configures the skill store and learning behavior.
type SkillsConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Backend      string  `koanf:"backend"`
	Dir          string  `koanf:"dir"`
	FeedbackDir  string  `koanf:"feedback_dir"`
	BadgerPath   string  `koanf:"badger_path"`
	ExportDir    string  `koanf:"export_dir"`
	MaxInjected  int     `koanf:"max_injected"`
	MinQuality   float64 `koanf:"min_quality"`
	PromotedOnly bool    `koanf:"promoted_only"`
	AutoPromote  bool    `koanf:"auto_promote"`
	Watch        bool    `koanf:"watch"`
}

// ReviewConfig configures reviewer signal transport.
type ReviewConfig struct {
	// NATSURL enables the NATS bus when set.
	NATSURL       string  `koanf:"nats_url"`
	SubjectPrefix string  `koanf:"subject_prefix"`
	PublishRate   float64 `koanf:"publish_rate"`
	PublishBurst  int     `koanf:"publish_burst"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns the configuration used before any file or env override.
func Default() *Config {
	base := defaultBaseDir()
	lc := loop.DefaultConfig()
	return &Config{
		Loop: LoopConfig{
			MaxIterations:       lc.MaxIterations,
			MinImprovement:      lc.MinImprovement,
			QualityThreshold:    lc.QualityThreshold,
			OscillationWindow:   lc.OscillationWindow,
			StagnationThreshold: lc.StagnationThreshold,
			ReviewEnabled:       lc.ReviewEnabled,
			ReviewerModel:       lc.ReviewerModel,
			ReviewType:          string(lc.ReviewType),
		},
		Scorer: ScorerConfig{Timeout: Duration(30 * time.Second)},
		Skills: SkillsConfig{
			Enabled:     true,
			Backend:     BackendFile,
			Dir:         filepath.Join(base, "skills", "learned"),
			FeedbackDir: filepath.Join(base, "feedback"),
			BadgerPath:  filepath.Join(base, "badger"),
			MaxInjected: 3,
			MinQuality:  50,
		},
		Review: ReviewConfig{
			SubjectPrefix: review.DefaultSubjectPrefix,
			PublishRate:   10,
			PublishBurst:  20,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Secrets:   secrets.DefaultConfig(),
	}
}

// defaultBaseDir is ~/.config/skillloop, or ./.skillloop without a home.
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillloop"
	}
	return filepath.Join(home, ".config", "skillloop")
}

// LoopConfig converts the loop section. The iteration cap is clamped by the
// controller, so an oversized max_iterations passes through.
func (c *Config) LoopConfig() loop.Config {
	return loop.Config{
		MaxIterations:       c.Loop.MaxIterations,
		MinImprovement:      c.Loop.MinImprovement,
		QualityThreshold:    c.Loop.QualityThreshold,
		OscillationWindow:   c.Loop.OscillationWindow,
		StagnationThreshold: c.Loop.StagnationThreshold,
		Timeout:             c.Loop.Timeout.Duration(),
		ReviewEnabled:       c.Loop.ReviewEnabled,
		ReviewerModel:       c.Loop.ReviewerModel,
		ReviewType:          review.ReviewType(c.Loop.ReviewType),
		ReviewWait:          c.Loop.ReviewWait.Duration(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error

	if err := c.LoopConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Scorer.Command != "" && c.Scorer.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("scorer.timeout must be positive when a command is set"))
	}
	errs = append(errs, c.Skills.validate()...)

	if c.Review.NATSURL != "" {
		if c.Review.SubjectPrefix == "" || strings.ContainsAny(c.Review.SubjectPrefix, " *>") {
			errs = append(errs, fmt.Errorf("review.subject_prefix %q is not a valid subject prefix", c.Review.SubjectPrefix))
		}
		if c.Review.PublishRate < 0 || c.Review.PublishBurst < 0 {
			errs = append(errs, errors.New("review.publish_rate and publish_burst must be >= 0"))
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 0..65535, got %d", c.Server.Port))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (s SkillsConfig) validate() []error {
	var errs []error
	switch s.Backend {
	case BackendFile:
		if s.Dir == "" || s.FeedbackDir == "" {
			errs = append(errs, errors.New("skills.dir and skills.feedback_dir are required for the file backend"))
		}
	case BackendBadger:
		if s.BadgerPath == "" {
			errs = append(errs, errors.New("skills.badger_path is required for the badger backend"))
		}
		if s.Watch {
			errs = append(errs, errors.New("skills.watch is only supported by the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("skills.backend must be %q or %q, got %q", BackendFile, BackendBadger, s.Backend))
	}
	if s.MaxInjected < 0 {
		errs = append(errs, fmt.Errorf("skills.max_injected must be >= 0, got %d", s.MaxInjected))
	}
	if s.MinQuality < 0 || s.MinQuality > 100 {
		errs = append(errs, fmt.Errorf("skills.min_quality must be in 0..100, got %.1f", s.MinQuality))
	}
	return errs
}
