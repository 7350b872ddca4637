package loop

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/skillloop/internal/loop"
)

// Metrics provides OpenTelemetry metrics for loop runs.
type Metrics struct {
	started   metric.Int64Counter
	completed metric.Int64Counter
	errors    metric.Int64Counter

	duration     metric.Float64Histogram
	iterDuration metric.Float64Histogram

	iterations metric.Int64Gauge
	finalScore metric.Float64Gauge
	iterScore  metric.Float64Gauge
	iterDelta  metric.Float64Gauge

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	if m.started, err = meter.Int64Counter("loop.started.count",
		metric.WithDescription("Loop runs started"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter("loop.completed.count",
		metric.WithDescription("Loop runs completed, by termination reason"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("loop.errors.count",
		metric.WithDescription("Performer failures"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("loop.duration.seconds",
		metric.WithDescription("Wall-clock duration of a loop run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600),
	); err != nil {
		return nil, err
	}
	if m.iterDuration, err = meter.Float64Histogram("loop.iteration.duration.seconds",
		metric.WithDescription("Duration of one iteration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	); err != nil {
		return nil, err
	}
	if m.iterations, err = meter.Int64Gauge("loop.iterations.total",
		metric.WithDescription("Iterations used by the last completed run"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, err
	}
	if m.finalScore, err = meter.Float64Gauge("loop.quality_score.final",
		metric.WithDescription("Final quality score of the last completed run"),
	); err != nil {
		return nil, err
	}
	if m.iterScore, err = meter.Float64Gauge("loop.iteration.quality_score",
		metric.WithDescription("Quality score of the last iteration"),
	); err != nil {
		return nil, err
	}
	if m.iterDelta, err = meter.Float64Gauge("loop.iteration.quality_delta",
		metric.WithDescription("Score change produced by the last iteration"),
	); err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordLoopStarted records the start of a run.
func (m *Metrics) RecordLoopStarted(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.started.Add(ctx, 1)
}

// RecordIteration records one completed iteration.
func (m *Metrics) RecordIteration(ctx context.Context, elapsed time.Duration, score, delta float64) {
	if m == nil || !m.initialized {
		return
	}
	m.iterDuration.Record(ctx, elapsed.Seconds())
	m.iterScore.Record(ctx, score)
	m.iterDelta.Record(ctx, delta)
}

// RecordPerformerError records a failed iteration.
func (m *Metrics) RecordPerformerError(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "performer")))
}

// RecordLoopCompleted records the end of a run.
// Note: loop_id is intentionally not an attribute; it is unbounded.
func (m *Metrics) RecordLoopCompleted(ctx context.Context, reason TerminationReason, elapsed time.Duration, iterations int, finalScore float64) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("termination_reason", string(reason)))
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	m.iterations.Record(ctx, int64(iterations), attrs)
	m.finalScore.Record(ctx, finalScore, attrs)
}

// Tracer returns a tracer for the loop package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
