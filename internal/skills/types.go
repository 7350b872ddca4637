package skills

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Limits on the lists a skill carries.
const (
	MaxPatterns     = 10
	MaxAntiPatterns = 5
	MaxTriggers     = 15
)

// LearnedSkill is a reusable bundle of strategies mined from a session.
type LearnedSkill struct {
	SkillID                 string     `json:"skill_id" yaml:"skill_id" validate:"required"`
	Name                    string     `json:"name" yaml:"name" validate:"required"`
	Description             string     `json:"description" yaml:"description"`
	Triggers                []string   `json:"triggers" yaml:"triggers"`
	Domain                  string     `json:"domain" yaml:"domain"`
	SourceSession           string     `json:"source_session" yaml:"source_session"`
	SourceRepo              string     `json:"source_repo" yaml:"source_repo"`
	LearnedAt               time.Time  `json:"learned_at" yaml:"learned_at"`
	Patterns                []string   `json:"patterns" yaml:"patterns" validate:"max=10"`
	AntiPatterns            []string   `json:"anti_patterns" yaml:"anti_patterns" validate:"max=5"`
	QualityScore            float64    `json:"quality_score" yaml:"quality_score" validate:"gte=0,lte=100"`
	Iterations              int        `json:"iterations" yaml:"iterations" validate:"gte=0"`
	Provenance              Provenance `json:"provenance" yaml:"provenance"`
	ApplicabilityConditions []string   `json:"applicability_conditions" yaml:"applicability_conditions"`
	Promoted                bool       `json:"promoted" yaml:"promoted"`
	PromotionReason         string     `json:"promotion_reason" yaml:"promotion_reason"`
}

// Provenance is the audit trail of where a skill came from.
type Provenance struct {
	SessionID          string        `json:"session_id" yaml:"session_id"`
	RepoPath           string        `json:"repo_path" yaml:"repo_path"`
	Iterations         int           `json:"iterations" yaml:"iterations"`
	QualityProgression []QualityStep `json:"quality_progression" yaml:"quality_progression"`
	TotalDuration      float64       `json:"total_duration" yaml:"total_duration"`
	TerminationReason  string        `json:"termination_reason" yaml:"termination_reason"`
}

// QualityStep is the score movement of one iteration.
type QualityStep struct {
	Iteration int     `json:"iteration" yaml:"iteration"`
	Before    float64 `json:"before" yaml:"before"`
	After     float64 `json:"after" yaml:"after"`
}

// Validate checks required fields and limits.
func (s *LearnedSkill) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil skill", ErrInvalidSkill)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSkill, err)
	}
	return nil
}

// Clone returns a deep copy.
func (s *LearnedSkill) Clone() *LearnedSkill {
	if s == nil {
		return nil
	}
	c := *s
	c.Triggers = slices.Clone(s.Triggers)
	c.Patterns = slices.Clone(s.Patterns)
	c.AntiPatterns = slices.Clone(s.AntiPatterns)
	c.ApplicabilityConditions = slices.Clone(s.ApplicabilityConditions)
	c.Provenance.QualityProgression = slices.Clone(s.Provenance.QualityProgression)
	return &c
}

// IterationFeedback is the append-only record of one loop iteration.
type IterationFeedback struct {
	SessionID           string               `json:"session_id"`
	Iteration           int                  `json:"iteration"`
	QualityBefore       float64              `json:"quality_before"`
	QualityAfter        float64              `json:"quality_after"`
	ImprovementsApplied []string             `json:"improvements_applied"`
	ImprovementsNeeded  []string             `json:"improvements_needed"`
	ChangedFiles        []string             `json:"changed_files"`
	TestResults         *quality.TestResults `json:"test_results,omitempty"`
	DurationSeconds     float64              `json:"duration_seconds"`
	Success             bool                 `json:"success"`
	TerminationReason   string               `json:"termination_reason,omitempty"`
	Timestamp           time.Time            `json:"timestamp"`
}

// SkillApplication records one use of a skill in a session.
type SkillApplication struct {
	SkillID       string    `json:"skill_id"`
	SessionID     string    `json:"session_id"`
	WasHelpful    bool      `json:"was_helpful"`
	QualityImpact float64   `json:"quality_impact"`
	Feedback      string    `json:"feedback,omitempty"`
	AppliedAt     time.Time `json:"applied_at"`
}

// Effectiveness summarizes a skill's application history.
type Effectiveness struct {
	SkillID          string  `json:"skill_id"`
	Applications     int     `json:"applications"`
	HelpfulCount     int     `json:"helpful_count"`
	UnhelpfulCount   int     `json:"unhelpful_count"`
	SuccessRate      float64 `json:"success_rate"`
	AvgQualityImpact float64 `json:"avg_quality_impact"`
}

// summarize folds application records into an Effectiveness.
func summarize(skillID string, apps []SkillApplication) *Effectiveness {
	e := &Effectiveness{SkillID: skillID, Applications: len(apps)}
	if len(apps) == 0 {
		return e
	}
	var impact float64
	for _, a := range apps {
		if a.WasHelpful {
			e.HelpfulCount++
		} else {
			e.UnhelpfulCount++
		}
		impact += a.QualityImpact
	}
	e.SuccessRate = float64(e.HelpfulCount) / float64(e.Applications)
	e.AvgQualityImpact = impact / float64(e.Applications)
	return e
}

// SearchQuery filters a keyword search.
type SearchQuery struct {
	// Terms are matched case-insensitively against skill triggers. A skill
	// matches when it shares at least one term. No terms matches all.
	Terms        []string
	Domain       string
	MinQuality   float64
	PromotedOnly bool
	Limit        int
}

// Stats summarizes a store.
type Stats struct {
	TotalSkills         int     `json:"total_skills"`
	PromotedSkills      int     `json:"promoted_skills"`
	AvgQuality          float64 `json:"avg_quality"`
	FeedbackRecords     int     `json:"feedback_records"`
	Applications        int     `json:"applications"`
	HelpfulApplications int     `json:"helpful_applications"`
	SuccessRate         float64 `json:"success_rate"`
}
