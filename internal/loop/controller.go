package loop

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
	"github.com/fyrsmithlabs/skillloop/internal/review"
)

// ResultSource yields reviewer results for previously published signals.
// review.Inbox implements it.
type ResultSource interface {
	Wait(ctx context.Context, signalID string, timeout time.Duration) (*review.Result, bool)
}

// Controller runs improvement loops. A Controller holds no per-run state and
// may run several loops concurrently.
type Controller struct {
	cfg       Config
	assessor  *quality.Assessor
	publisher review.Publisher
	results   ResultSource
	logger    *Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithAssessor replaces the default local assessor.
func WithAssessor(a *quality.Assessor) Option {
	return func(c *Controller) {
		if a != nil {
			c.assessor = a
		}
	}
}

// WithPublisher delivers emitted signals to reviewers.
func WithPublisher(p review.Publisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithResults supplies reviewer results for emitted signals.
func WithResults(r ResultSource) Option {
	return func(c *Controller) {
		c.results = r
	}
}

// WithInbox uses inbox both to publish signals and to collect results.
func WithInbox(inbox *review.Inbox) Option {
	return func(c *Controller) {
		c.publisher = inbox
		c.results = inbox
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = NewLogger(l)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController creates a Controller. The iteration budget is clamped to
// HardMaxIterations here and cannot be raised afterwards.
func NewController(cfg Config, opts ...Option) *Controller {
	cfg = cfg.normalized()
	c := &Controller{
		cfg:    cfg,
		logger: NewLogger(nil),
		tracer: Tracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.assessor == nil {
		c.assessor = quality.NewAssessor(cfg.QualityThreshold)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// run is the mutable state of one Run call.
type run struct {
	id      string
	start   time.Time
	history []IterationRecord
	scores  []float64
	files   []string
	seen    map[string]struct{}
}

func (r *run) trackFiles(files []string) {
	for _, f := range files {
		if _, ok := r.seen[f]; ok {
			continue
		}
		r.seen[f] = struct{}{}
		r.files = append(r.files, f)
	}
}

func (r *run) lastScore() float64 {
	if len(r.scores) == 0 {
		return 0
	}
	return r.scores[len(r.scores)-1]
}

// Run drives performer until a termination condition holds. It never
// returns nil.
func (c *Controller) Run(ctx context.Context, initial IterationContext, performer Performer) *Result {
	r := &run{
		id:    uuid.NewString()[:12],
		start: c.now(),
		seen:  make(map[string]struct{}),
	}

	ctx, span := c.tracer.Start(ctx, "loop.Run", trace.WithAttributes(
		attribute.String("loop.id", r.id),
		attribute.Int("loop.max_iterations", c.cfg.MaxIterations),
	))
	defer span.End()

	c.logger.LoopStarted(ctx, r.id, c.cfg)
	c.metrics.RecordLoopStarted(ctx)

	var (
		termination TerminationReason
		assessment  = &quality.Assessment{Threshold: c.cfg.QualityThreshold, Band: quality.BandInsufficient}
		evidence    *quality.Evidence
		runErr      error
		current     = initial.Clone()
	)
	if current.TargetScore == 0 {
		current.TargetScore = c.cfg.QualityThreshold
	}

	if performer == nil {
		termination, runErr = TerminationError, ErrNilPerformer
	}

	for i := 0; termination == "" && i < c.cfg.MaxIterations; i++ {
		if reason, stop := c.checkDeadline(ctx, r); stop {
			termination = reason
			break
		}

		iterStart := c.now()
		iterCtx, iterSpan := c.tracer.Start(ctx, "loop.iteration",
			trace.WithAttributes(attribute.Int("loop.iteration", i)))

		ev, err := callPerformer(iterCtx, performer, current.Clone())
		if err != nil {
			runErr = err
			termination = TerminationError
			rec := IterationRecord{
				Index:               i,
				InputQuality:        r.lastScore(),
				OutputQuality:       r.lastScore(),
				ImprovementsApplied: capList(current.ImprovementsNeeded, maxAppliedImprovements),
				ElapsedSeconds:      c.now().Sub(iterStart).Seconds(),
				TerminationReason:   TerminationError,
				ChangedFiles:        []string{},
				Error:               err.Error(),
				Timestamp:           c.now(),
			}
			r.history = append(r.history, rec)
			c.logger.PerformerFailed(iterCtx, r.id, i, err)
			c.metrics.RecordPerformerError(iterCtx)
			iterSpan.RecordError(err)
			iterSpan.SetStatus(codes.Error, "performer failed")
			iterSpan.End()
			break
		}
		if ev == nil {
			ev = &quality.Evidence{}
		}
		evidence = ev
		r.trackFiles(ev.Files())

		assessment = c.assessor.Assess(iterCtx, ev)
		r.scores = append(r.scores, assessment.OverallScore)
		reason := c.cfg.Evaluate(r.scores, assessment.Passed)

		rec := c.record(r, i, current, assessment, ev, c.now().Sub(iterStart), reason)
		if reason == "" && c.cfg.ReviewEnabled && i < c.cfg.MaxIterations-1 {
			rec.ReviewSignal = review.NewReviewSignal(r.id, i, slices.Clone(ev.Files()), assessment,
				c.cfg.ReviewerModel, c.cfg.ReviewType)
			c.publish(iterCtx, r.id, rec.ReviewSignal)
		}
		r.history = append(r.history, rec)
		c.logger.IterationRecorded(iterCtx, r.id, &rec)
		c.metrics.RecordIteration(iterCtx, c.now().Sub(iterStart), rec.OutputQuality, rec.QualityDelta())
		iterSpan.SetAttributes(
			attribute.Float64("loop.score", assessment.OverallScore),
			attribute.String("loop.termination_reason", string(reason)),
		)
		iterSpan.End()

		if reason != "" {
			termination = reason
			break
		}
		current = c.nextContext(ctx, r, current, assessment, ev)
	}

	if termination == "" {
		termination = TerminationMaxIterations
		if n := len(r.history); n > 0 {
			r.history[n-1].TerminationReason = TerminationMaxIterations
		}
	}
	c.closingSignal(ctx, r, termination, assessment)

	res := &Result{
		LoopID:          r.id,
		FinalEvidence:   evidence,
		FinalAssessment: assessment,
		History:         r.history,
		Termination:     termination,
		TotalIterations: len(r.history),
		ElapsedSeconds:  c.now().Sub(r.start).Seconds(),
		ScoreHistory:    r.scores,
		ChangedFiles:    r.files,
	}
	if res.History == nil {
		res.History = []IterationRecord{}
	}
	if res.ChangedFiles == nil {
		res.ChangedFiles = []string{}
	}
	if runErr != nil {
		res.Err = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(termination))
	}
	span.SetAttributes(
		attribute.String("loop.termination_reason", string(termination)),
		attribute.Int("loop.iterations", res.TotalIterations),
	)

	c.logger.LoopFinished(ctx, res)
	c.metrics.RecordLoopCompleted(ctx, termination, c.now().Sub(r.start), res.TotalIterations, res.FinalScore())
	return res
}

// checkDeadline applies the run timeout and caller cancellation. Both are
// only observed between iterations.
func (c *Controller) checkDeadline(ctx context.Context, r *run) (TerminationReason, bool) {
	if c.cfg.Timeout > 0 && c.now().Sub(r.start) > c.cfg.Timeout {
		return TerminationTimeout, true
	}
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return TerminationTimeout, true
	case err != nil:
		return TerminationError, true
	}
	return "", false
}

func (c *Controller) record(r *run, index int, in IterationContext, a *quality.Assessment, ev *quality.Evidence, elapsed time.Duration, reason TerminationReason) IterationRecord {
	input := 0.0
	if n := len(r.scores); n >= 2 {
		input = r.scores[n-2]
	}
	return IterationRecord{
		Index:               index,
		InputQuality:        input,
		OutputQuality:       a.OverallScore,
		ImprovementsApplied: capList(in.ImprovementsNeeded, maxAppliedImprovements),
		ImprovementsNeeded:  slices.Clone(a.ImprovementsNeeded),
		ElapsedSeconds:      elapsed.Seconds(),
		Succeeded:           reason == TerminationQualityMet,
		TerminationReason:   reason,
		ChangedFiles:        append([]string{}, ev.Files()...),
		Tests:               ev.Tests,
		Timestamp:           c.now(),
	}
}

// nextContext builds the following iteration's input, merging a reviewer
// result for the iteration just recorded when one is available.
func (c *Controller) nextContext(ctx context.Context, r *run, cur IterationContext, a *quality.Assessment, ev *quality.Evidence) IterationContext {
	next := cur.Clone()
	next.ImprovementsNeeded = slices.Clone(a.ImprovementsNeeded)
	next.Iteration = len(r.history)
	next.PreviousScore = a.OverallScore
	next.TargetScore = c.cfg.QualityThreshold
	next.PreviousChanges = slices.Clone(ev.Changes)

	last := &r.history[len(r.history)-1]
	if last.ReviewSignal == nil || c.results == nil {
		return next
	}
	result, ok := c.results.Wait(ctx, last.ReviewSignal.ID, c.cfg.ReviewWait)
	if !ok {
		return next
	}
	last.ReviewResult = result
	next.MergeReview(result)
	c.logger.ReviewMerged(ctx, r.id, last.ReviewSignal.ID, len(result.IssuesFound))
	return next
}

// closingSignal attaches the final validation or debug signal to the last
// record.
func (c *Controller) closingSignal(ctx context.Context, r *run, reason TerminationReason, a *quality.Assessment) {
	n := len(r.history)
	if n == 0 {
		return
	}
	var s *review.Signal
	switch reason {
	case TerminationQualityMet:
		s = review.NewFinalSignal(r.id, n, slices.Clone(r.files), a, c.cfg.ReviewerModel)
	case TerminationOscillation, TerminationStagnation:
		s = review.NewDebugSignal(r.id, n-1, string(reason), r.scores, c.cfg.ReviewerModel)
	default:
		return
	}
	r.history[n-1].ReviewSignal = s
	c.publish(ctx, r.id, s)
}

func (c *Controller) publish(ctx context.Context, loopID string, s *review.Signal) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(ctx, s)
	c.logger.SignalEmitted(ctx, loopID, s, err)
}

// callPerformer invokes p, converting panics into errors.
func callPerformer(ctx context.Context, p Performer, ic IterationContext) (ev *quality.Evidence, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ev, err = nil, fmt.Errorf("%w: panic: %v", ErrPerformerFailed, rec)
		}
	}()
	ev, err = p.Perform(ctx, ic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPerformerFailed, err)
	}
	return ev, nil
}

func capList(list []string, n int) []string {
	if len(list) > n {
		list = list[:n]
	}
	return append([]string{}, list...)
}
