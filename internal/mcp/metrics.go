package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

const instrumentationName = "github.com/fyrsmithlabs/skillloop/internal/mcp"

// errInvalidInput marks tool arguments that fail validation.
var errInvalidInput = errors.New("invalid input")

// Tool call outcomes recorded on skillloop.mcp.tool.calls.
const (
	outcomeOK         = "ok"
	outcomeInvalid    = "invalid_input"
	outcomeNotFound   = "not_found"
	outcomeRejected   = "rejected"
	outcomeStoreError = "store_error"
	outcomeCanceled   = "canceled"
	outcomeInternal   = "internal_error"
)

// Metrics records tool calls.
type Metrics struct {
	calls      metric.Int64Counter
	latency    metric.Float64Histogram
	inflight   metric.Int64UpDownCounter
	searchHits metric.Int64Histogram
}

// NewMetrics creates the tool instruments. A nil meter uses the global
// provider. Instruments that fail to register are logged and skipped.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	m := &Metrics{}
	var err error
	if m.calls, err = meter.Int64Counter("skillloop.mcp.tool.calls",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("failed to create tool call counter", zap.Error(err))
	}
	if m.latency, err = meter.Float64Histogram("skillloop.mcp.tool.duration",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		logger.Warn("failed to create tool latency histogram", zap.Error(err))
	}
	if m.inflight, err = meter.Int64UpDownCounter("skillloop.mcp.tool.inflight",
		metric.WithDescription("MCP tool calls currently executing"),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("failed to create inflight counter", zap.Error(err))
	}
	if m.searchHits, err = meter.Int64Histogram("skillloop.mcp.search.hits",
		metric.WithDescription("Skills returned per skill_search call"),
		metric.WithUnit("{skill}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10),
	); err != nil {
		logger.Warn("failed to create search hits histogram", zap.Error(err))
	}
	return m
}

// Begin marks a tool call as in flight. The returned func ends it and
// records the outcome derived from err.
func (m *Metrics) Begin(ctx context.Context, tool string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, toolAttr)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, toolAttr)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), toolAttr)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome(err)),
			))
		}
	}
}

// RecordSearchHits records the size of one skill_search result.
func (m *Metrics) RecordSearchHits(ctx context.Context, n int) {
	if m == nil || m.searchHits == nil {
		return
	}
	m.searchHits.Record(ctx, int64(n))
}

// outcome classifies a tool error by the sentinel it wraps.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, errInvalidInput),
		errors.Is(err, skills.ErrInvalidSkill),
		errors.Is(err, review.ErrInvalidResult):
		return outcomeInvalid
	case errors.Is(err, skills.ErrSkillNotFound), errors.Is(err, review.ErrUnknownSignal):
		return outcomeNotFound
	case errors.Is(err, skills.ErrPromotionRejected):
		return outcomeRejected
	case errors.Is(err, skills.ErrStoreClosed):
		return outcomeStoreError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeInternal
	}
}
