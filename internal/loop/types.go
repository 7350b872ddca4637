package loop

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
	"github.com/fyrsmithlabs/skillloop/internal/review"
)

// TerminationReason names why a run stopped.
type TerminationReason string

const (
	TerminationQualityMet              TerminationReason = "quality_met"
	TerminationMaxIterations           TerminationReason = "max_iterations_reached"
	TerminationInsufficientImprovement TerminationReason = "insufficient_improvement"
	TerminationStagnation              TerminationReason = "stagnation"
	TerminationOscillation             TerminationReason = "oscillation"
	TerminationError                   TerminationReason = "error"
	TerminationTimeout                 TerminationReason = "timeout"
	// TerminationHumanEscalation is reserved for callers that hand a run to
	// a person; the controller never produces it.
	TerminationHumanEscalation TerminationReason = "human_escalation"
)

// maxAppliedImprovements caps IterationRecord.ImprovementsApplied.
const maxAppliedImprovements = 5

// SkillHint is a previously learned skill offered to the performer.
type SkillHint struct {
	SkillID      string   `json:"skill_id"`
	Name         string   `json:"name"`
	Relevance    float64  `json:"relevance"`
	Patterns     []string `json:"patterns,omitempty"`
	AntiPatterns []string `json:"anti_patterns,omitempty"`
	Conditions   []string `json:"conditions,omitempty"`
}

// IterationContext is the input handed to the performer for one iteration.
type IterationContext struct {
	Task               string          `json:"task"`
	Files              []string        `json:"files,omitempty"`
	Domain             string          `json:"domain,omitempty"`
	Iteration          int             `json:"iteration"`
	ImprovementsNeeded []string        `json:"improvements_needed,omitempty"`
	PreviousScore      float64         `json:"previous_score"`
	TargetScore        float64         `json:"target_score"`
	PreviousChanges    []string        `json:"previous_changes,omitempty"`
	ReviewerFeedback   json.RawMessage `json:"reviewer_feedback,omitempty"`
	LearnedSkills      []SkillHint     `json:"learned_skills,omitempty"`
	LearningContext    string          `json:"learning_context,omitempty"`
}

// Clone returns a deep copy so successive iterations never share slices.
func (c IterationContext) Clone() IterationContext {
	c.Files = slices.Clone(c.Files)
	c.ImprovementsNeeded = slices.Clone(c.ImprovementsNeeded)
	c.PreviousChanges = slices.Clone(c.PreviousChanges)
	c.ReviewerFeedback = slices.Clone(c.ReviewerFeedback)
	c.LearnedSkills = slices.Clone(c.LearnedSkills)
	return c
}

// MergeReview folds a reviewer result into the improvement list and keeps
// the reviewer payload for traceability.
func (c *IterationContext) MergeReview(r *review.Result) {
	if r == nil {
		return
	}
	c.ImprovementsNeeded = review.MergeImprovements(c.ImprovementsNeeded, r)
	c.ReviewerFeedback = r.Payload()
}

// IterationRecord is the history entry for one iteration. Records are not
// modified once appended, except that ReviewResult is filled in when a
// reviewer answers after the fact.
type IterationRecord struct {
	Index               int                  `json:"index"`
	InputQuality        float64              `json:"input_quality"`
	OutputQuality       float64              `json:"output_quality"`
	ImprovementsApplied []string             `json:"improvements_applied"`
	ImprovementsNeeded  []string             `json:"improvements_needed,omitempty"`
	ElapsedSeconds      float64              `json:"elapsed_seconds"`
	Succeeded           bool                 `json:"succeeded"`
	TerminationReason   TerminationReason    `json:"termination_reason,omitempty"`
	ChangedFiles        []string             `json:"changed_files"`
	Tests               *quality.TestResults `json:"tests,omitempty"`
	ReviewSignal        *review.Signal       `json:"review_signal,omitempty"`
	ReviewResult        *review.Result       `json:"review_result,omitempty"`
	Error               string               `json:"error,omitempty"`
	Timestamp           time.Time            `json:"timestamp"`
}

// QualityDelta returns the score change produced by the iteration.
func (r *IterationRecord) QualityDelta() float64 {
	return r.OutputQuality - r.InputQuality
}

// Result is the outcome of one run.
type Result struct {
	LoopID          string              `json:"loop_id"`
	FinalEvidence   *quality.Evidence   `json:"final_evidence,omitempty"`
	FinalAssessment *quality.Assessment `json:"final_assessment"`
	History         []IterationRecord   `json:"history"`
	Termination     TerminationReason   `json:"termination_reason"`
	TotalIterations int                 `json:"total_iterations"`
	ElapsedSeconds  float64             `json:"elapsed_seconds"`
	ScoreHistory    []float64           `json:"score_history"`
	ChangedFiles    []string            `json:"changed_files"`
	Err             string              `json:"error,omitempty"`
}

// Succeeded reports whether the run met its quality target.
func (r *Result) Succeeded() bool {
	return r != nil && r.Termination == TerminationQualityMet
}

// FinalScore returns the last assessed score, or 0 when nothing was scored.
func (r *Result) FinalScore() float64 {
	if r == nil || r.FinalAssessment == nil {
		return 0
	}
	return r.FinalAssessment.OverallScore
}
