package learning

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the OTel scope for learning metrics and spans.
const InstrumentationName = "github.com/fyrsmithlabs/skillloop/internal/learning"

// Metrics counts learning outcomes.
type Metrics struct {
	applied   metric.Int64Counter
	extracted metric.Int64Counter
	promoted  metric.Int64Counter
}

// NewMetrics creates the learning instruments. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &Metrics{}
	var err error
	if m.applied, err = meter.Int64Counter("learning.skills.applied.count",
		metric.WithDescription("Learned skills injected into loop runs"),
		metric.WithUnit("{skill}"),
	); err != nil {
		return nil, err
	}
	if m.extracted, err = meter.Int64Counter("learning.skills.extracted.count",
		metric.WithDescription("Skill extraction attempts after successful runs"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.promoted, err = meter.Int64Counter("learning.skills.promoted.count",
		metric.WithDescription("Skills promoted"),
		metric.WithUnit("{skill}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordApplied counts injected skills. Nil-safe.
func (m *Metrics) RecordApplied(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.applied.Add(ctx, int64(n))
}

// RecordExtracted counts one extraction attempt.
func (m *Metrics) RecordExtracted(ctx context.Context, domain string, success bool) {
	if m == nil {
		return
	}
	m.extracted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("success", strconv.FormatBool(success)),
	))
}

// RecordPromoted counts one promotion.
func (m *Metrics) RecordPromoted(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.promoted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
