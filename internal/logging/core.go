package logging

import (
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// instrumentationName is the scope name logs carry on the OTEL bridge.
const instrumentationName = "github.com/fyrsmithlabs/skillloop"

// newCore tees the console and OTEL outputs and wraps them with sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider, w io.Writer) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)
	level := cfg.ZapLevel()

	if w != nil && (cfg.Output.Stdout || cfg.Output.Stderr) {
		encoder, err := newScrubEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, &levelFilterCore{Core: otelCore, minLevel: level, hasMin: true})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}

// newSampledCore samples entries below Error. Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	errorCore := &levelFilterCore{Core: core, minLevel: zapcore.ErrorLevel, hasMin: true}
	belowError := &levelFilterCore{Core: core, maxLevel: zapcore.WarnLevel, hasMax: true}
	sampled := zapcore.NewSamplerWithOptions(belowError, cfg.Tick, cfg.Initial, cfg.Thereafter)
	return zapcore.NewTee(errorCore, sampled)
}

// levelFilterCore restricts a core to a level range.
type levelFilterCore struct {
	zapcore.Core
	minLevel, maxLevel zapcore.Level
	hasMin, hasMax     bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.minLevel {
		return false
	}
	if c.hasMax && lvl > c.maxLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
		hasMin:   c.hasMin,
		hasMax:   c.hasMax,
	}
}
