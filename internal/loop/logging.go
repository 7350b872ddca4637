package loop

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
)

// Logger wraps zap.Logger with loop lifecycle events.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("loop")}
}

// LoopStarted logs the start of a run.
func (l *Logger) LoopStarted(ctx context.Context, loopID string, cfg Config) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.baseFields(ctx, loopID),
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Float64("quality_threshold", cfg.QualityThreshold),
		zap.Bool("review_enabled", cfg.ReviewEnabled),
		zap.Duration("timeout", cfg.Timeout),
	)
	l.logger.Info("loop started", fields...)
}

// IterationRecorded logs one completed iteration.
func (l *Logger) IterationRecorded(ctx context.Context, loopID string, rec *IterationRecord) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.baseFields(ctx, loopID),
		zap.Int("iteration", rec.Index),
		zap.Float64("input_quality", rec.InputQuality),
		zap.Float64("output_quality", rec.OutputQuality),
		zap.Float64("elapsed_seconds", rec.ElapsedSeconds),
		zap.Bool("succeeded", rec.Succeeded),
		zap.String("termination_reason", string(rec.TerminationReason)),
		zap.Int("changed_files", len(rec.ChangedFiles)),
		zap.Bool("review_signal", rec.ReviewSignal != nil),
	)
	l.logger.Debug("iteration recorded", fields...)
}

// PerformerFailed logs a failed iteration.
func (l *Logger) PerformerFailed(ctx context.Context, loopID string, iteration int, err error) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.baseFields(ctx, loopID),
		zap.Int("iteration", iteration),
		zap.Error(err),
	)
	l.logger.Error("performer failed", fields...)
}

// SignalEmitted logs a review signal, and the delivery error if any.
func (l *Logger) SignalEmitted(ctx context.Context, loopID string, s *review.Signal, err error) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.baseFields(ctx, loopID),
		zap.String("signal_id", s.ID),
		zap.String("kind", string(s.Kind)),
		zap.Int("iteration", s.Iteration),
	)
	if err != nil {
		l.logger.Warn("review signal not delivered", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug("review signal emitted", fields...)
}

// ReviewMerged logs a reviewer result folded into the next iteration.
func (l *Logger) ReviewMerged(ctx context.Context, loopID, signalID string, findings int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.baseFields(ctx, loopID),
		zap.String("signal_id", signalID),
		zap.Int("findings", findings),
	)
	l.logger.Info("reviewer feedback merged", fields...)
}

// LoopFinished logs the end of a run.
func (l *Logger) LoopFinished(ctx context.Context, res *Result) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.baseFields(ctx, res.LoopID),
		zap.String("termination_reason", string(res.Termination)),
		zap.Int("total_iterations", res.TotalIterations),
		zap.Float64("elapsed_seconds", res.ElapsedSeconds),
		zap.Float64("final_score", res.FinalScore()),
	)
	switch res.Termination {
	case TerminationError, TerminationTimeout:
		l.logger.Warn("loop finished", fields...)
	default:
		l.logger.Info("loop finished", fields...)
	}
}

func (l *Logger) baseFields(ctx context.Context, loopID string) []zap.Field {
	return append([]zap.Field{zap.String("loop_id", loopID)}, traceFields(ctx)...)
}

// traceFields extracts trace context from the context.
func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
