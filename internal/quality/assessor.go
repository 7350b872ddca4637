package quality

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultThreshold is the passing score when none is configured.
const DefaultThreshold = 70.0

// Assessor scores evidence, delegating to an optional external scorer.
type Assessor struct {
	threshold float64
	external  Scorer
	local     LocalScorer
	logger    *zap.Logger
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithExternalScorer delegates scoring to s, falling back to the local
// scorer when s reports ErrScorerUnavailable.
func WithExternalScorer(s Scorer) Option {
	return func(a *Assessor) {
		a.external = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assessor) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssessor creates an Assessor passing scores at or above threshold.
func NewAssessor(threshold float64, opts ...Option) *Assessor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	a := &Assessor{
		threshold: threshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the passing score.
func (a *Assessor) Threshold() float64 {
	return a.threshold
}

// Assess scores ev. It always returns a well-formed assessment.
func (a *Assessor) Assess(ctx context.Context, ev *Evidence) *Assessment {
	if ev == nil {
		ev = &Evidence{}
	}
	if err := ev.Validate(); err != nil {
		a.logger.Warn("rejecting invalid evidence", zap.Error(err))
		return failedAssessment(a.threshold, "invalid", err.Error())
	}

	if a.external != nil {
		assessment, err := a.external.Score(ctx, ev, a.threshold)
		switch {
		case err == nil:
			return assessment
		case errors.Is(err, ErrScorerUnavailable):
			a.logger.Debug("external scorer unavailable, scoring locally", zap.Error(err))
		case errors.Is(err, ErrScorerTimeout):
			a.logger.Warn("external scorer timed out", zap.Error(err))
			return failedAssessment(a.threshold, "timeout", "external scorer timed out")
		default:
			a.logger.Warn("external scorer failed", zap.Error(err))
			return failedAssessment(a.threshold, "error", fmt.Sprintf("external scorer error: %v", err))
		}
	}

	assessment, _ := a.local.Score(ctx, ev, a.threshold)
	return assessment
}
