package loop

import "github.com/fyrsmithlabs/skillloop/internal/review"

// DetectOscillation reports whether the last window scores move in strictly
// alternating directions. Moves of 2 points or less are ignored, and at
// least two directional moves are required.
func DetectOscillation(scores []float64, window int) bool {
	if window < 2 || len(scores) < window {
		return false
	}
	recent := scores[len(scores)-window:]
	return review.Alternates(review.Directions(recent))
}

// DetectStagnation reports whether the spread of the last window scores (or
// all of them when fewer exist) is below threshold. A single score is never
// stagnant.
func DetectStagnation(scores []float64, window int, threshold float64) bool {
	if len(scores) < 2 {
		return false
	}
	if window < 2 {
		window = 2
	}
	recent := scores
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	return review.Spread(recent) < threshold
}

// InsufficientImprovement reports whether the latest score gained less than
// minImprovement over the one before it.
func InsufficientImprovement(scores []float64, minImprovement float64) bool {
	n := len(scores)
	if n < 2 {
		return false
	}
	return scores[n-1]-scores[n-2] < minImprovement
}

// Evaluate applies the termination checks in order to a score history whose
// latest entry was just assessed. It returns the empty reason when the loop
// should continue.
func (c Config) Evaluate(scores []float64, passed bool) TerminationReason {
	c = c.normalized()
	switch {
	case passed:
		return TerminationQualityMet
	case DetectOscillation(scores, c.OscillationWindow):
		return TerminationOscillation
	case DetectStagnation(scores, c.OscillationWindow, c.StagnationThreshold):
		return TerminationStagnation
	case InsufficientImprovement(scores, c.MinImprovement):
		return TerminationInsufficientImprovement
	default:
		return ""
	}
}
