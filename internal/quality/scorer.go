package quality

import (
	"context"
	"fmt"
	"math"
)

// Scorer turns evidence into an assessment against a threshold.
type Scorer interface {
	Score(ctx context.Context, ev *Evidence, threshold float64) (*Assessment, error)
}

// Point values for each scoring dimension.
const (
	pointsChanges       = 30.0
	pointsTestsRan      = 25.0
	pointsTestsAllPass  = 20.0
	pointsTestsMostPass = 15.0
	pointsLintClean     = 15.0
	pointsCoverageHigh  = 10.0
	pointsCoverageMid   = 7.0
	pointsCoverageLow   = 3.0

	mostPassRate = 0.9
	coverageHigh = 80.0
	coverageMid  = 60.0
	maxScore     = 100.0
)

// LocalScorer is the in-process additive scorer.
type LocalScorer struct{}

// Score implements Scorer. It never returns an error.
func (LocalScorer) Score(_ context.Context, ev *Evidence, threshold float64) (*Assessment, error) {
	var (
		score   float64
		missing []string
		metrics = map[string]float64{}
	)

	if len(ev.Files()) > 0 {
		score += pointsChanges
		metrics["changes"] = pointsChanges
	} else {
		missing = append(missing, "No file changes detected")
	}

	if ev.testsRan() {
		tests := ev.Tests
		score += pointsTestsRan
		metrics["tests_ran"] = pointsTestsRan

		total := tests.Total()
		switch {
		case total > 0 && tests.Failed == 0:
			score += pointsTestsAllPass
			metrics["tests_passing"] = pointsTestsAllPass
		case total > 0 && tests.PassRate() >= mostPassRate:
			score += pointsTestsMostPass
			metrics["tests_passing"] = pointsTestsMostPass
		}
		if tests.Failed > 0 {
			missing = append(missing, fmt.Sprintf("%d test(s) failing", tests.Failed))
		}
		metrics["test_pass_rate"] = tests.PassRate()

		cov := tests.Coverage
		switch {
		case cov >= coverageHigh:
			score += pointsCoverageHigh
			metrics["coverage"] = pointsCoverageHigh
		case cov >= coverageMid:
			score += pointsCoverageMid
			metrics["coverage"] = pointsCoverageMid
		case cov > 0:
			score += pointsCoverageLow
			metrics["coverage"] = pointsCoverageLow
		}
		if cov < coverageMid {
			missing = append(missing, fmt.Sprintf("Coverage %.1f%% is low", cov))
		}
	} else {
		missing = append(missing, "Tests not executed")
	}

	if ev.lintRan() {
		if ev.Lint.Errors == 0 {
			score += pointsLintClean
			metrics["lint"] = pointsLintClean
		} else {
			missing = append(missing, fmt.Sprintf("%d lint error(s)", ev.Lint.Errors))
		}
	}

	score = math.Round(math.Min(score, maxScore)*10) / 10
	return &Assessment{
		OverallScore:       score,
		Passed:             score >= threshold,
		Threshold:          threshold,
		ImprovementsNeeded: missing,
		Metrics:            metrics,
		Band:               BandFor(score),
		Metadata: map[string]any{
			"status":        string(BandFor(score)),
			"changes_count": len(ev.Files()),
			"tests_ran":     ev.testsRan(),
			"lint_ran":      ev.lintRan(),
		},
	}, nil
}
