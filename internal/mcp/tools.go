package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

// defaultSearchLimit caps skill_search results when no limit is given.
const defaultSearchLimit = 5

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	s.registerSkillTools()
	if s.reviews != nil {
		s.registerReviewTools()
	}
	return nil
}

// instrument wraps a tool body with metrics and converts it to an SDK
// handler. fn returns the structured output and the text shown to the model.
func instrument[In, Out any](s *Server, name string, fn func(context.Context, In) (Out, string, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Begin(ctx, name)
		out, text, err := fn(ctx, args)
		done(err)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	}
}

// ===== SKILL TOOLS =====

type skillSearchInput struct {
	Query        string   `json:"query" jsonschema:"Task description to match against skill triggers"`
	Files        []string `json:"files,omitempty" jsonschema:"File paths involved in the task"`
	Domain       string   `json:"domain,omitempty" jsonschema:"Restrict to one domain (backend, frontend, infrastructure, testing, security, data, general)"`
	MinQuality   float64  `json:"min_quality,omitempty" jsonschema:"Minimum quality score (default 50)"`
	PromotedOnly bool     `json:"promoted_only,omitempty" jsonschema:"Only return promoted skills"`
	Limit        int      `json:"limit,omitempty" jsonschema:"Maximum results to return (default 5)"`
}

type skillSummary struct {
	SkillID      string   `json:"skill_id"`
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	QualityScore float64  `json:"quality_score"`
	Promoted     bool     `json:"promoted"`
	Relevance    float64  `json:"relevance,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	Patterns     []string `json:"patterns"`
	AntiPatterns []string `json:"anti_patterns"`
}

type skillListOutput struct {
	Skills []skillSummary `json:"skills"`
	Count  int            `json:"count"`
}

type skillGetInput struct {
	SkillID string `json:"skill_id" jsonschema:"Skill identifier (learned-...)"`
}

type effectivenessSummary struct {
	Applications     int     `json:"applications"`
	HelpfulCount     int     `json:"helpful_count"`
	UnhelpfulCount   int     `json:"unhelpful_count"`
	SuccessRate      float64 `json:"success_rate"`
	AvgQualityImpact float64 `json:"avg_quality_impact"`
}

type skillGetOutput struct {
	SkillID         string               `json:"skill_id"`
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	Domain          string               `json:"domain"`
	Triggers        []string             `json:"triggers"`
	Patterns        []string             `json:"patterns"`
	AntiPatterns    []string             `json:"anti_patterns"`
	Conditions      []string             `json:"applicability_conditions"`
	QualityScore    float64              `json:"quality_score"`
	Iterations      int                  `json:"iterations"`
	SourceSession   string               `json:"source_session"`
	SourceRepo      string               `json:"source_repo"`
	LearnedAt       string               `json:"learned_at"`
	Promoted        bool                 `json:"promoted"`
	PromotionReason string               `json:"promotion_reason,omitempty"`
	Effectiveness   effectivenessSummary `json:"effectiveness"`
}

type skillPendingInput struct{}

type skillPromoteInput struct {
	SkillID string `json:"skill_id" jsonschema:"Skill identifier to promote"`
	Reason  string `json:"reason,omitempty" jsonschema:"Promotion reason recorded on the skill"`
}

type skillPromoteOutput struct {
	SkillID       string               `json:"skill_id"`
	Promoted      bool                 `json:"promoted"`
	Reason        string               `json:"reason"`
	Path          string               `json:"path,omitempty"`
	Effectiveness effectivenessSummary `json:"effectiveness"`
}

type skillStatsInput struct{}

func (s *Server) registerSkillTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "skill_search",
		Description: "Find learned skills relevant to a task, ranked by trigger overlap, quality and track record",
	}, instrument(s, "skill_search", s.skillSearch))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "skill_get",
		Description: "Get a learned skill with its patterns, anti-patterns and effectiveness",
	}, instrument(s, "skill_get", s.skillGet))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "skill_pending",
		Description: "List unpromoted skills close to the promotion threshold",
	}, instrument(s, "skill_pending", s.skillPending))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "skill_promote",
		Description: "Promote a skill if it meets the quality and track-record criteria",
	}, instrument(s, "skill_promote", s.skillPromote))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "skill_stats",
		Description: "Learning statistics: skills, promotions, feedback records and application success rate",
	}, instrument(s, "skill_stats", s.skillStats))
}

func (s *Server) skillSearch(ctx context.Context, args skillSearchInput) (skillListOutput, string, error) {
	if strings.TrimSpace(args.Query) == "" && len(args.Files) == 0 {
		return skillListOutput{}, "", fmt.Errorf("%w: query or files is required", errInvalidInput)
	}
	if args.MinQuality < 0 || args.MinQuality > 100 {
		return skillListOutput{}, "", fmt.Errorf("%w: min_quality must be between 0 and 100", errInvalidInput)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := s.retriever.Retrieve(ctx, skills.RetrieveRequest{
		Task:         args.Query,
		Files:        args.Files,
		Domain:       args.Domain,
		MaxSkills:    limit,
		PromotedOnly: args.PromotedOnly,
		MinQuality:   args.MinQuality,
	})
	if err != nil {
		return skillListOutput{}, "", fmt.Errorf("skill search failed: %w", err)
	}

	s.metrics.RecordSearchHits(ctx, len(hits))
	out := skillListOutput{Skills: make([]skillSummary, 0, len(hits))}
	for _, h := range hits {
		sum := summarize(h.Skill)
		sum.Relevance = h.Score
		sum.MatchedTerms = h.MatchedTerms
		out.Skills = append(out.Skills, sum)
	}
	out.Count = len(out.Skills)
	return out, fmt.Sprintf("Found %d relevant skills", out.Count), nil
}

func (s *Server) skillGet(ctx context.Context, args skillGetInput) (skillGetOutput, string, error) {
	sk, err := s.store.GetSkill(ctx, args.SkillID)
	if err != nil {
		return skillGetOutput{}, "", err
	}
	eff, err := s.store.Effectiveness(ctx, sk.SkillID)
	if err != nil {
		return skillGetOutput{}, "", fmt.Errorf("loading effectiveness: %w", err)
	}

	out := skillGetOutput{
		SkillID:         sk.SkillID,
		Name:            sk.Name,
		Description:     sk.Description,
		Domain:          sk.Domain,
		Triggers:        nonNil(sk.Triggers),
		Patterns:        nonNil(sk.Patterns),
		AntiPatterns:    nonNil(sk.AntiPatterns),
		Conditions:      nonNil(sk.ApplicabilityConditions),
		QualityScore:    sk.QualityScore,
		Iterations:      sk.Iterations,
		SourceSession:   sk.SourceSession,
		SourceRepo:      sk.SourceRepo,
		LearnedAt:       sk.LearnedAt.UTC().Format(time.RFC3339),
		Promoted:        sk.Promoted,
		PromotionReason: sk.PromotionReason,
		Effectiveness:   effectivenessOf(eff),
	}
	return out, fmt.Sprintf("%s (quality %.1f, %d applications)", sk.Name, sk.QualityScore, eff.Applications), nil
}

func (s *Server) skillPending(ctx context.Context, _ skillPendingInput) (skillListOutput, string, error) {
	pending, err := s.gate.ListPending(ctx)
	if err != nil {
		return skillListOutput{}, "", fmt.Errorf("listing pending skills: %w", err)
	}
	out := skillListOutput{Skills: make([]skillSummary, 0, len(pending))}
	for _, sk := range pending {
		out.Skills = append(out.Skills, summarize(sk))
	}
	out.Count = len(out.Skills)
	return out, fmt.Sprintf("%d skills pending promotion", out.Count), nil
}

// skillPromote reports a rejection as a normal result with Promoted false;
// only store failures are tool errors.
func (s *Server) skillPromote(ctx context.Context, args skillPromoteInput) (skillPromoteOutput, string, error) {
	sk, err := s.store.GetSkill(ctx, args.SkillID)
	if err != nil {
		return skillPromoteOutput{}, "", err
	}
	if sk.Promoted {
		out := skillPromoteOutput{SkillID: sk.SkillID, Promoted: true, Reason: sk.PromotionReason}
		return out, "Skill already promoted", nil
	}

	d, err := s.gate.Evaluate(ctx, sk)
	if err != nil {
		return skillPromoteOutput{}, "", err
	}
	out := skillPromoteOutput{SkillID: sk.SkillID, Reason: d.Reason, Effectiveness: effectivenessOf(d.Effectiveness)}
	if !d.ShouldPromote {
		return out, "Not promoted: " + d.Reason, nil
	}

	reason := args.Reason
	if reason == "" {
		reason = d.Reason
	}
	path, err := s.gate.Promote(ctx, sk, reason)
	if err != nil {
		return skillPromoteOutput{}, "", err
	}
	out.Promoted = true
	out.Reason = sk.PromotionReason
	out.Path = path
	return out, "Promoted " + sk.SkillID, nil
}

func (s *Server) skillStats(ctx context.Context, _ skillStatsInput) (skills.Stats, string, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return skills.Stats{}, "", fmt.Errorf("loading stats: %w", err)
	}
	text := fmt.Sprintf("%d skills (%d promoted), %d applications, %.0f%% success",
		st.TotalSkills, st.PromotedSkills, st.Applications, st.SuccessRate*100)
	return *st, text, nil
}

// ===== REVIEW TOOLS =====

type reviewPendingInput struct{}

type signalSummary struct {
	SignalID    string   `json:"signal_id"`
	LoopID      string   `json:"loop_id"`
	Kind        string   `json:"kind"`
	Iteration   int      `json:"iteration"`
	Instruction string   `json:"instruction"`
	ReviewType  string   `json:"review_type,omitempty"`
	Files       []string `json:"files"`
}

type reviewPendingOutput struct {
	Signals []signalSummary `json:"signals"`
	Count   int             `json:"count"`
}

type reviewSubmitInput struct {
	SignalID    string           `json:"signal_id" jsonschema:"Identifier of the signal being answered"`
	IssuesFound []review.Finding `json:"issues_found" jsonschema:"Findings with severity (critical, high, medium, low), description and optional file"`
}

type reviewSubmitOutput struct {
	SignalID    string `json:"signal_id"`
	Accepted    bool   `json:"accepted"`
	IssuesFound int    `json:"issues_found"`
}

func (s *Server) registerReviewTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "review_pending",
		Description: "List review signals waiting for a reviewer result",
	}, instrument(s, "review_pending", s.reviewPending))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "review_submit",
		Description: "Submit reviewer findings for a pending review signal",
	}, instrument(s, "review_submit", s.reviewSubmit))
}

func (s *Server) reviewPending(_ context.Context, _ reviewPendingInput) (reviewPendingOutput, string, error) {
	pending := s.reviews.Pending()
	out := reviewPendingOutput{Signals: make([]signalSummary, 0, len(pending))}
	for _, sig := range pending {
		out.Signals = append(out.Signals, signalSummary{
			SignalID:    sig.ID,
			LoopID:      sig.LoopID,
			Kind:        string(sig.Kind),
			Iteration:   sig.Iteration,
			Instruction: sig.Instruction,
			ReviewType:  string(sig.ReviewType),
			Files:       nonNil(sig.Files),
		})
	}
	out.Count = len(out.Signals)
	return out, fmt.Sprintf("%d review signals pending", out.Count), nil
}

func (s *Server) reviewSubmit(ctx context.Context, args reviewSubmitInput) (reviewSubmitOutput, string, error) {
	if args.SignalID == "" {
		return reviewSubmitOutput{}, "", fmt.Errorf("%w: signal_id is required", errInvalidInput)
	}
	findings := args.IssuesFound
	if findings == nil {
		findings = []review.Finding{}
	}
	payload, err := json.Marshal(review.Result{IssuesFound: findings})
	if err != nil {
		return reviewSubmitOutput{}, "", fmt.Errorf("encoding result: %w", err)
	}
	result, err := review.ParseResult(payload)
	if err != nil {
		return reviewSubmitOutput{}, "", err
	}
	if err := s.reviews.Submit(ctx, args.SignalID, result); err != nil {
		return reviewSubmitOutput{}, "", err
	}
	s.logger.Info("review result received",
		zap.String("signal_id", args.SignalID),
		zap.Int("issues", len(findings)))
	out := reviewSubmitOutput{SignalID: args.SignalID, Accepted: true, IssuesFound: len(findings)}
	return out, fmt.Sprintf("Delivered %d findings for %s", len(findings), args.SignalID), nil
}

func summarize(sk *skills.LearnedSkill) skillSummary {
	return skillSummary{
		SkillID:      sk.SkillID,
		Name:         sk.Name,
		Domain:       sk.Domain,
		QualityScore: sk.QualityScore,
		Promoted:     sk.Promoted,
		Patterns:     nonNil(sk.Patterns),
		AntiPatterns: nonNil(sk.AntiPatterns),
	}
}

func effectivenessOf(e *skills.Effectiveness) effectivenessSummary {
	if e == nil {
		return effectivenessSummary{}
	}
	return effectivenessSummary{
		Applications:     e.Applications,
		HelpfulCount:     e.HelpfulCount,
		UnhelpfulCount:   e.UnhelpfulCount,
		SuccessRate:      e.SuccessRate,
		AvgQualityImpact: e.AvgQualityImpact,
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
