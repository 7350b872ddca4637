package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
	"github.com/fyrsmithlabs/skillloop/internal/review"
)

// scriptedScorer returns pre-set scores in order.
type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (s *scriptedScorer) Score(_ context.Context, _ *quality.Evidence, threshold float64) (*quality.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := s.scores[len(s.scores)-1]
	if s.calls < len(s.scores) {
		score = s.scores[s.calls]
	}
	s.calls++
	return &quality.Assessment{
		OverallScore:       score,
		Passed:             score >= threshold,
		Threshold:          threshold,
		ImprovementsNeeded: []string{"raise coverage", "fix lint"},
		Metrics:            map[string]float64{},
		Band:               quality.BandFor(score),
	}, nil
}

// recordingPerformer captures every context it is handed.
type recordingPerformer struct {
	mu       sync.Mutex
	contexts []IterationContext
	files    [][]string
	err      error
	delay    time.Duration
}

func (p *recordingPerformer) Perform(_ context.Context, ic IterationContext) (*quality.Evidence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = append(p.contexts, ic)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	files := []string{"src/app.go"}
	if n := len(p.contexts) - 1; n < len(p.files) {
		files = p.files[n]
	}
	return &quality.Evidence{Changes: files, ChangedFiles: files}, nil
}

func newTestController(cfg Config, scores []float64, opts ...Option) *Controller {
	assessor := quality.NewAssessor(cfg.normalized().QualityThreshold,
		quality.WithExternalScorer(&scriptedScorer{scores: scores}))
	return NewController(cfg, append([]Option{WithAssessor(assessor)}, opts...)...)
}

func TestController_ClampsIterations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 100
	cfg.QualityThreshold = 95
	cfg.ReviewEnabled = false

	c := newTestController(cfg, []float64{10, 20, 30, 40, 50, 60, 70, 80})
	assert.Equal(t, HardMaxIterations, c.Config().MaxIterations)

	res := c.Run(context.Background(), IterationContext{Task: "t"}, &recordingPerformer{})
	assert.Equal(t, TerminationMaxIterations, res.Termination)
	assert.Equal(t, HardMaxIterations, res.TotalIterations)
	assert.Equal(t, TerminationMaxIterations, res.History[HardMaxIterations-1].TerminationReason)
}

func TestController_QualityMet(t *testing.T) {
	cfg := DefaultConfig()
	inbox := review.NewInbox()
	c := newTestController(cfg, []float64{50, 60, 75}, WithInbox(inbox))

	res := c.Run(context.Background(), IterationContext{Task: "add login"}, &recordingPerformer{})
	require.Equal(t, TerminationQualityMet, res.Termination)
	require.Len(t, res.History, 3)
	assert.Equal(t, []float64{50, 60, 75}, res.ScoreHistory)
	assert.Equal(t, 75.0, res.FinalScore())
	assert.True(t, res.Succeeded())

	last := res.History[2]
	assert.True(t, last.Succeeded)
	assert.Equal(t, TerminationQualityMet, last.TerminationReason)
	assert.Equal(t, 60.0, last.InputQuality)
	require.NotNil(t, last.ReviewSignal)
	assert.True(t, last.ReviewSignal.IsFinal)
	assert.Equal(t, review.KindFinal, last.ReviewSignal.Kind)

	assert.Equal(t, 0.0, res.History[0].InputQuality)
	assert.NotNil(t, res.History[0].ReviewSignal, "intermediate iterations request review")
	assert.Equal(t, review.KindReview, res.History[0].ReviewSignal.Kind)
	assert.Len(t, inbox.Pending(), 3)
}

func TestController_Oscillation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 90
	cfg.MinImprovement = 0
	cfg.MaxIterations = 5
	c := newTestController(cfg, []float64{50, 60, 52, 63})

	res := c.Run(context.Background(), IterationContext{}, &recordingPerformer{})
	require.Equal(t, TerminationOscillation, res.Termination)
	assert.Len(t, res.History, 3)

	debug := res.History[2].ReviewSignal
	require.NotNil(t, debug)
	assert.Equal(t, review.KindDebug, debug.Kind)
	dc, ok := debug.Context.(*review.DebugContext)
	require.True(t, ok)
	assert.Equal(t, review.PatternOscillating, dc.Pattern)
	assert.Equal(t, []float64{50, 60, 52}, dc.ScoreHistory)
}

func TestController_Stagnation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 90
	cfg.MinImprovement = 0
	c := newTestController(cfg, []float64{65.0, 65.5})

	res := c.Run(context.Background(), IterationContext{}, &recordingPerformer{})
	assert.Equal(t, TerminationStagnation, res.Termination)
	assert.Equal(t, review.KindDebug, res.History[len(res.History)-1].ReviewSignal.Kind)
}

func TestController_InsufficientImprovement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 90
	cfg.MinImprovement = 10
	c := newTestController(cfg, []float64{50, 52.5})

	res := c.Run(context.Background(), IterationContext{}, &recordingPerformer{})
	assert.Equal(t, TerminationInsufficientImprovement, res.Termination)
	assert.Len(t, res.History, 2)
	assert.Equal(t, TerminationInsufficientImprovement, res.History[1].TerminationReason)
}

func TestController_PerformerError(t *testing.T) {
	p := &recordingPerformer{err: errors.New("agent crashed")}
	c := newTestController(DefaultConfig(), []float64{90})

	res := c.Run(context.Background(), IterationContext{}, p)
	require.Equal(t, TerminationError, res.Termination)
	require.Len(t, res.History, 1)
	assert.False(t, res.History[0].Succeeded)
	assert.Equal(t, TerminationError, res.History[0].TerminationReason)
	assert.Contains(t, res.History[0].Error, "agent crashed")
	assert.Contains(t, res.Err, "agent crashed")
	assert.Len(t, p.contexts, 1, "failures are not retried")
}

func TestController_PerformerPanic(t *testing.T) {
	p := PerformerFunc(func(context.Context, IterationContext) (*quality.Evidence, error) {
		panic("boom")
	})
	res := NewController(DefaultConfig()).Run(context.Background(), IterationContext{}, p)
	assert.Equal(t, TerminationError, res.Termination)
	assert.Contains(t, res.Err, "boom")
}

func TestController_NilPerformer(t *testing.T) {
	res := NewController(DefaultConfig()).Run(context.Background(), IterationContext{}, nil)
	assert.Equal(t, TerminationError, res.Termination)
	assert.Empty(t, res.History)
	assert.NotNil(t, res.FinalAssessment)
}

func TestController_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 95
	cfg.Timeout = time.Millisecond
	c := newTestController(cfg, []float64{10, 30, 50})

	res := c.Run(context.Background(), IterationContext{}, &recordingPerformer{delay: 5 * time.Millisecond})
	assert.Equal(t, TerminationTimeout, res.Termination)
	assert.Len(t, res.History, 1, "timeout is checked between iterations only")
}

func TestController_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewController(DefaultConfig()).Run(ctx, IterationContext{}, &recordingPerformer{})
	assert.Equal(t, TerminationError, res.Termination)
	assert.Empty(t, res.History)
}

func TestController_ChangedFilesAreASet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 95
	cfg.ReviewEnabled = false
	p := &recordingPerformer{files: [][]string{
		{"a.go", "b.go"},
		{"a.go"},
		{"c.go", "b.go"},
	}}
	res := newTestController(cfg, []float64{10, 30, 50}).Run(context.Background(), IterationContext{}, p)

	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, res.ChangedFiles)
	assert.Equal(t, []string{"a.go"}, res.History[1].ChangedFiles)
}

type fixedResults struct {
	result *review.Result
}

func (f fixedResults) Wait(context.Context, string, time.Duration) (*review.Result, bool) {
	return f.result, f.result != nil
}

func TestController_MergesReviewerFeedback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 95
	result, err := review.ParseResult([]byte(`{"issues_found":[{"severity":"critical","description":"sql injection"},{"severity":"medium","description":"add docs"}]}`))
	require.NoError(t, err)

	p := &recordingPerformer{}
	c := newTestController(cfg, []float64{10, 30, 50}, WithResults(fixedResults{result: result}))
	res := c.Run(context.Background(), IterationContext{Task: "t"}, p)

	require.Len(t, p.contexts, 3)
	second := p.contexts[1]
	assert.Equal(t, []string{"sql injection", "raise coverage", "fix lint", "add docs"}, second.ImprovementsNeeded)
	assert.JSONEq(t, string(result.Raw), string(second.ReviewerFeedback))
	assert.Equal(t, 1, second.Iteration)
	assert.Equal(t, 10.0, second.PreviousScore)
	assert.Equal(t, 95.0, second.TargetScore)
	assert.Equal(t, []string{"src/app.go"}, second.PreviousChanges)

	assert.NotNil(t, res.History[0].ReviewResult)
	assert.Equal(t, second.ImprovementsNeeded[:4], res.History[1].ImprovementsApplied)
	assert.Nil(t, res.History[2].ReviewSignal, "no review request on the final allowed iteration")
}

func TestController_FirstIterationGetsInitialContext(t *testing.T) {
	p := &recordingPerformer{}
	initial := IterationContext{Task: "build api", ImprovementsNeeded: []string{"start"}}
	newTestController(DefaultConfig(), []float64{80}).Run(context.Background(), initial, p)

	require.Len(t, p.contexts, 1)
	assert.Equal(t, "build api", p.contexts[0].Task)
	assert.Equal(t, 70.0, p.contexts[0].TargetScore)
}

func TestController_Telemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	c := newTestController(DefaultConfig(), []float64{40, 80},
		WithMetrics(metrics), WithLogger(zap.New(core)))
	c.Run(context.Background(), IterationContext{}, &recordingPerformer{})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "loop.completed.count" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
				v, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("termination_reason"))
				require.True(t, ok)
				assert.Equal(t, "quality_met", v.AsString())
			}
		}
	}
	assert.True(t, found["loop.started.count"])
	assert.True(t, found["loop.iteration.quality_score"])
	assert.True(t, found["loop.duration.seconds"])

	finished := logs.FilterMessage("loop finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "quality_met", finished[0].ContextMap()["termination_reason"])
	assert.Equal(t, 2, logs.FilterMessage("iteration recorded").Len())
}
