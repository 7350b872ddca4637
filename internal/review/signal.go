package review

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
)

// Tool names the reviewer capability a signal asks for.
const (
	ToolCodeReview = "mcp__pal__codereview"
	ToolDebug      = "mcp__pal__debug"
)

// DefaultModel is the reviewer model requested when none is configured.
const DefaultModel = "gpt-5"

// maxSignalImprovements caps the improvements quoted in a review signal.
const maxSignalImprovements = 5

// Kind distinguishes the three signal shapes.
type Kind string

const (
	KindReview Kind = "review"
	KindFinal  Kind = "final"
	KindDebug  Kind = "debug"
)

// ReviewType selects review depth.
type ReviewType string

const (
	ReviewQuick    ReviewType = "quick"
	ReviewFull     ReviewType = "full"
	ReviewSecurity ReviewType = "security"
	ReviewAuto     ReviewType = "auto"
)

// ResolveReviewType turns ReviewAuto into a concrete depth: full when the
// score is poor or the loop is on its third iteration or later.
func ResolveReviewType(rt ReviewType, score float64, iteration int) ReviewType {
	if rt != ReviewAuto && rt != "" {
		return rt
	}
	if score < 50 || iteration >= 2 {
		return ReviewFull
	}
	return ReviewQuick
}

// Signal is a structured request for an external reviewer.
type Signal struct {
	ID             string      `json:"id"`
	LoopID         string      `json:"loop_id,omitempty"`
	Kind           Kind        `json:"kind"`
	ActionRequired bool        `json:"action_required"`
	Tool           string      `json:"tool"`
	Iteration      int         `json:"iteration"`
	Instruction    string      `json:"instruction"`
	Files          []string    `json:"files,omitempty"`
	Model          string      `json:"model"`
	ReviewType     ReviewType  `json:"review_type,omitempty"`
	IsFinal        bool        `json:"is_final,omitempty"`
	Context        any         `json:"context"`
	Parameters     *Parameters `json:"parameters"`
}

// UnmarshalJSON decodes Context into the concrete type for the signal's
// Kind. Unknown kinds keep the generic JSON value.
func (s *Signal) UnmarshalJSON(data []byte) error {
	type plain Signal
	var wire struct {
		plain
		Context json.RawMessage `json:"context"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = Signal(wire.plain)

	if len(wire.Context) == 0 || string(wire.Context) == "null" {
		return nil
	}
	var ctx any
	switch s.Kind {
	case KindReview:
		ctx = &ReviewContext{}
	case KindFinal:
		ctx = &FinalContext{}
	case KindDebug:
		ctx = &DebugContext{}
	default:
		var generic any
		if err := json.Unmarshal(wire.Context, &generic); err != nil {
			return fmt.Errorf("decoding signal context: %w", err)
		}
		s.Context = generic
		return nil
	}
	if err := json.Unmarshal(wire.Context, ctx); err != nil {
		return fmt.Errorf("decoding %s signal context: %w", s.Kind, err)
	}
	s.Context = ctx
	return nil
}

// ReviewContext is the Context of review signals.
type ReviewContext struct {
	CurrentScore       float64  `json:"current_score"`
	TargetScore        float64  `json:"target_score"`
	QualityBand        string   `json:"quality_band"`
	ImprovementsNeeded []string `json:"improvements_needed"`
}

// FinalContext is the Context of final validation signals.
type FinalContext struct {
	FinalScore      float64 `json:"final_score"`
	Threshold       float64 `json:"threshold"`
	QualityBand     string  `json:"quality_band"`
	TotalIterations int     `json:"total_iterations"`
}

// DebugContext is the Context of debug signals.
type DebugContext struct {
	TerminationReason string    `json:"termination_reason"`
	ScoreHistory      []float64 `json:"score_history"`
	Pattern           Pattern   `json:"pattern"`
}

// Parameters mirrors the step protocol reviewers follow.
type Parameters struct {
	Step             string   `json:"step"`
	StepNumber       int      `json:"step_number"`
	TotalSteps       int      `json:"total_steps"`
	NextStepRequired bool     `json:"next_step_required"`
	Findings         string   `json:"findings"`
	RelevantFiles    []string `json:"relevant_files,omitempty"`
	Hypothesis       string   `json:"hypothesis,omitempty"`
}

// NewReviewSignal requests a review of iteration (zero-based).
func NewReviewSignal(loopID string, iteration int, files []string, a *quality.Assessment, model string, rt ReviewType) *Signal {
	if model == "" {
		model = DefaultModel
	}
	return &Signal{
		ID:             uuid.NewString(),
		LoopID:         loopID,
		Kind:           KindReview,
		ActionRequired: true,
		Tool:           ToolCodeReview,
		Iteration:      iteration,
		Instruction: fmt.Sprintf(
			"Loop iteration %d: Review the changed files to identify improvements before next iteration.",
			iteration+1),
		Files:      files,
		Model:      model,
		ReviewType: ResolveReviewType(rt, a.OverallScore, iteration),
		Context: &ReviewContext{
			CurrentScore:       a.OverallScore,
			TargetScore:        a.Threshold,
			QualityBand:        string(a.Band),
			ImprovementsNeeded: a.TopImprovements(maxSignalImprovements),
		},
		Parameters: &Parameters{
			Step:             fmt.Sprintf("Review changes from loop iteration %d", iteration+1),
			StepNumber:       1,
			TotalSteps:       2,
			NextStepRequired: true,
			RelevantFiles:    files,
		},
	}
}

// NewFinalSignal requests a full validation once the loop met its target.
func NewFinalSignal(loopID string, iterations int, files []string, a *quality.Assessment, model string) *Signal {
	if model == "" {
		model = DefaultModel
	}
	return &Signal{
		ID:             uuid.NewString(),
		LoopID:         loopID,
		Kind:           KindFinal,
		ActionRequired: true,
		Tool:           ToolCodeReview,
		Iteration:      iterations - 1,
		Instruction: fmt.Sprintf(
			"Quality threshold met after %d iteration(s). Perform final validation before completion.",
			iterations),
		Files:      files,
		Model:      model,
		ReviewType: ReviewFull,
		IsFinal:    true,
		Context: &FinalContext{
			FinalScore:      a.OverallScore,
			Threshold:       a.Threshold,
			QualityBand:     string(a.Band),
			TotalIterations: iterations,
		},
		Parameters: &Parameters{
			Step:             "Final validation of completed loop",
			StepNumber:       2,
			TotalSteps:       2,
			NextStepRequired: false,
			Findings:         fmt.Sprintf("Quality score: %g", a.OverallScore),
			RelevantFiles:    files,
		},
	}
}

// NewDebugSignal asks for a diagnosis of a loop that stopped converging.
func NewDebugSignal(loopID string, iteration int, reason string, history []float64, model string) *Signal {
	if model == "" {
		model = DefaultModel
	}
	return &Signal{
		ID:             uuid.NewString(),
		LoopID:         loopID,
		Kind:           KindDebug,
		ActionRequired: true,
		Tool:           ToolDebug,
		Iteration:      iteration,
		Instruction: fmt.Sprintf(
			"Loop terminated due to %s. Diagnose why improvements aren't converging.", reason),
		Model: model,
		Context: &DebugContext{
			TerminationReason: reason,
			ScoreHistory:      append([]float64(nil), history...),
			Pattern:           DetectPattern(history),
		},
		Parameters: &Parameters{
			Step:             fmt.Sprintf("Diagnose %s in improvement loop", reason),
			StepNumber:       1,
			TotalSteps:       1,
			NextStepRequired: false,
			Hypothesis:       fmt.Sprintf("Loop stuck due to %s", reason),
		},
	}
}
