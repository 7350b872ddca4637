package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingExporter struct {
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func TestNewCore_OTELOnly(t *testing.T) {
	exp := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))

	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, provider)
	require.NoError(t, err)
	logger.Info(context.Background(), "loop finished", zap.String("reason", "quality_met"))
	logger.Debug(context.Background(), "below level")

	require.Len(t, exp.records, 1)
	assert.Equal(t, "loop finished", exp.records[0].Body().AsString())
}

func TestNewCore_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one output")
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Same(t, core, newSampledCore(core, SamplingConfig{}))
}

func TestNewSampledCore_ErrorsNeverDropped(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       time.Minute,
		Initial:    2,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for i := 0; i < 10; i++ {
		logger.Info("repeated info")
		logger.Error("repeated error")
	}

	assert.Equal(t, 2, observed.FilterMessage("repeated info").Len())
	assert.Equal(t, 10, observed.FilterMessage("repeated error").Len())
}

func TestLevelFilterCore_WithKeepsRange(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: core, maxLevel: zapcore.WarnLevel, hasMax: true}

	logger := zap.New(filtered.With([]zapcore.Field{zap.String("component", "gate")}))
	logger.Info("kept")
	logger.Error("filtered")

	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "gate", observed.All()[0].ContextMap()["component"])
}
