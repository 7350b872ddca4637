package quality

// Band is a categorical label derived from a score.
type Band string

const (
	BandProductionReady Band = "production_ready"
	BandAcceptable      Band = "acceptable"
	BandNeedsReview     Band = "needs_review"
	BandInsufficient    Band = "insufficient"
)

// BandFor maps a score onto its band.
func BandFor(score float64) Band {
	switch {
	case score >= 90:
		return BandProductionReady
	case score >= 70:
		return BandAcceptable
	case score >= 50:
		return BandNeedsReview
	default:
		return BandInsufficient
	}
}

// Assessment is the verdict for one iteration. It is never modified after
// an Assessor returns it.
type Assessment struct {
	OverallScore       float64            `json:"overall_score"`
	Passed             bool               `json:"passed"`
	Threshold          float64            `json:"threshold"`
	ImprovementsNeeded []string           `json:"improvements_needed"`
	Metrics            map[string]float64 `json:"metrics"`
	Band               Band               `json:"band"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
}

// TopImprovements returns at most n improvements in priority order.
func (a *Assessment) TopImprovements(n int) []string {
	if a == nil {
		return nil
	}
	if len(a.ImprovementsNeeded) <= n {
		return append([]string(nil), a.ImprovementsNeeded...)
	}
	return append([]string(nil), a.ImprovementsNeeded[:n]...)
}

// failedAssessment describes a scoring failure as a zero-score verdict.
func failedAssessment(threshold float64, status, message string) *Assessment {
	return &Assessment{
		OverallScore:       0,
		Passed:             false,
		Threshold:          threshold,
		ImprovementsNeeded: []string{message},
		Metrics:            map[string]float64{},
		Band:               BandInsufficient,
		Metadata:           map[string]any{"status": status},
	}
}
