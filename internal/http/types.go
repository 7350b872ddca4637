package http

import (
	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
	"github.com/fyrsmithlabs/skillloop/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// SkillListResponse is returned by the skill search and pending endpoints.
type SkillListResponse struct {
	Skills []*skills.LearnedSkill `json:"skills"`
	Count  int                    `json:"count"`
}

// PromoteRequest is the optional body for POST /api/v1/skills/:id/promote.
type PromoteRequest struct {
	Reason string `json:"reason"`
}

// PromoteResponse reports the promotion outcome.
type PromoteResponse struct {
	SkillID  string           `json:"skill_id"`
	Promoted bool             `json:"promoted"`
	Reason   string           `json:"reason,omitempty"`
	Path     string           `json:"path,omitempty"`
	Decision *skills.Decision `json:"decision,omitempty"`
}

// FeedbackResponse is the response body for GET /api/v1/feedback/:session_id.
type FeedbackResponse struct {
	SessionID string                     `json:"session_id"`
	Records   []skills.IterationFeedback `json:"records"`
}

// PendingReviewsResponse lists signals awaiting a reviewer.
type PendingReviewsResponse struct {
	Signals []*review.Signal `json:"signals"`
	Count   int              `json:"count"`
}

// ReviewStatusResponse is one signal and its result, if any.
type ReviewStatusResponse struct {
	Signal   *review.Signal `json:"signal"`
	Answered bool           `json:"answered"`
	Result   *review.Result `json:"result,omitempty"`
}

// SubmitReviewResponse acknowledges a delivered review result.
type SubmitReviewResponse struct {
	SignalID    string `json:"signal_id"`
	Accepted    bool   `json:"accepted"`
	IssuesFound int    `json:"issues_found"`
}
