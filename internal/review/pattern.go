package review

// Pattern describes the overall shape of a score history.
type Pattern string

const (
	PatternOscillating      Pattern = "oscillating"
	PatternStagnating       Pattern = "stagnating"
	PatternDeclining        Pattern = "declining"
	PatternImproving        Pattern = "improving"
	PatternMixed            Pattern = "mixed"
	PatternInsufficientData Pattern = "insufficient_data"
)

// Deltas at or below noiseFloor carry no direction.
const noiseFloor = 2.0

// DetectPattern classifies a whole score history for diagnosis. Unlike the
// termination checks it looks at every score, not a recent window.
func DetectPattern(history []float64) Pattern {
	if len(history) < 2 {
		return PatternInsufficientData
	}

	if Alternates(Directions(history)) {
		return PatternOscillating
	}

	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	if Spread(recent) < noiseFloor {
		return PatternStagnating
	}

	first, last := history[0], history[len(history)-1]
	switch {
	case last < first:
		return PatternDeclining
	case last > first:
		return PatternImproving
	default:
		return PatternMixed
	}
}

// Directions returns +1 or -1 for each consecutive delta larger than the
// noise floor, skipping smaller ones.
func Directions(scores []float64) []int {
	dirs := make([]int, 0, len(scores))
	for i := 1; i < len(scores); i++ {
		d := scores[i] - scores[i-1]
		switch {
		case d > noiseFloor:
			dirs = append(dirs, 1)
		case d < -noiseFloor:
			dirs = append(dirs, -1)
		}
	}
	return dirs
}

// Alternates reports whether there are at least two directions and each
// differs from the one before it.
func Alternates(dirs []int) bool {
	if len(dirs) < 2 {
		return false
	}
	for i := 1; i < len(dirs); i++ {
		if dirs[i] == dirs[i-1] {
			return false
		}
	}
	return true
}

// Spread returns max-min of scores, or 0 for an empty slice.
func Spread(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return hi - lo
}
