package learning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/logging"
	"github.com/fyrsmithlabs/skillloop/internal/loop"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

// Hint sizes taken from each injected skill.
const (
	hintPatterns     = 3
	hintAntiPatterns = 2
)

// Config controls learning around a loop run.
type Config struct {
	Enabled      bool
	AutoPromote  bool
	MaxInjected  int
	PromotedOnly bool
	MinQuality   float64
}

// DefaultConfig enables learning with three injected skills.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxInjected: skills.DefaultMaxSkills}
}

// Runner runs one loop. *loop.Controller satisfies it.
type Runner interface {
	Run(ctx context.Context, initial loop.IterationContext, performer loop.Performer) *loop.Result
}

// Outcome is a loop result plus what was learned from it.
type Outcome struct {
	SessionID      string               `json:"session_id"`
	Domain         string               `json:"domain"`
	RepoPath       string               `json:"repo_path"`
	Result         *loop.Result         `json:"result"`
	AppliedSkills  []skills.ScoredSkill `json:"applied_skills"`
	ExtractedSkill *skills.LearnedSkill `json:"extracted_skill,omitempty"`
	Promoted       bool                 `json:"promoted"`
	PromotionPath  string               `json:"promotion_path,omitempty"`
	LearningErrors []string             `json:"learning_errors,omitempty"`
}

func (o *Outcome) fail(ctx context.Context, logger *zap.Logger, msg string, err error) {
	o.LearningErrors = append(o.LearningErrors, fmt.Sprintf("%s: %v", msg, err))
	logger.Warn(msg, append(logging.ContextFields(ctx), zap.Error(err))...)
}

// Orchestrator couples a loop runner with the skill store.
type Orchestrator struct {
	cfg       Config
	runner    Runner
	store     skills.Store
	retriever *skills.Retriever
	extractor *skills.Extractor
	gate      *skills.Gate
	metrics   *Metrics
	logger    *zap.Logger
	repoPath  string
	sessionID func() string
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the learning metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithExtractor replaces the default extractor, typically to add a redactor.
func WithExtractor(e *skills.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithGate replaces the default promotion gate, typically to set an export dir.
func WithGate(g *skills.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithRepoPath fixes the repository recorded on extracted skills.
func WithRepoPath(path string) Option {
	return func(o *Orchestrator) { o.repoPath = path }
}

// WithSessionIDs overrides session id generation.
func WithSessionIDs(next func() string) Option {
	return func(o *Orchestrator) { o.sessionID = next }
}

// WithClock overrides the application timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. When no repo path is given, the git work
// tree enclosing the working directory is used.
func New(runner Runner, store skills.Store, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		runner:    runner,
		store:     store,
		retriever: skills.NewRetriever(store),
		logger:    zap.NewNop(),
		sessionID: NewSessionID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("learning")
	if o.extractor == nil {
		o.extractor = skills.NewExtractor(store, skills.WithExtractorLogger(o.logger))
	}
	if o.gate == nil {
		o.gate = skills.NewGate(store, skills.WithGateLogger(o.logger))
	}
	if o.repoPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		o.repoPath = DetectRepoPath(wd)
	}
	if o.cfg.MaxInjected <= 0 {
		o.cfg.MaxInjected = skills.DefaultMaxSkills
	}
	return o
}

// NewSessionID returns a 12 character uuid-derived session id.
func NewSessionID() string {
	return uuid.NewString()[:12]
}

// Run executes one learning loop. It never returns nil.
func (o *Orchestrator) Run(ctx context.Context, initial loop.IterationContext, performer loop.Performer) *Outcome {
	out := &Outcome{
		SessionID:     o.sessionID(),
		RepoPath:      o.repoPath,
		AppliedSkills: []skills.ScoredSkill{},
	}
	ctx = logging.WithSessionID(ctx, out.SessionID)

	if initial.Domain == "" {
		initial.Domain = DetectDomain(initial.Task, initial.Files)
	}
	out.Domain = initial.Domain

	ctx, span := tracer().Start(ctx, "learning.Run", trace.WithAttributes(
		attribute.String("session.id", out.SessionID),
		attribute.String("learning.domain", out.Domain),
		attribute.Bool("learning.enabled", o.cfg.Enabled),
	))
	defer span.End()

	if !o.cfg.Enabled {
		out.Result = o.runner.Run(ctx, initial, performer)
		return out
	}

	initial = o.inject(ctx, out, initial)
	o.metrics.RecordApplied(ctx, len(out.AppliedSkills))

	out.Result = o.runner.Run(ctx, initial, performer)

	o.recordFeedback(ctx, out)
	if out.Result.Succeeded() {
		o.extract(ctx, out)
	}
	if len(out.AppliedSkills) > 0 {
		o.recordApplications(ctx, out)
	}

	span.SetAttributes(
		attribute.Int("learning.applied", len(out.AppliedSkills)),
		attribute.Bool("learning.extracted", out.ExtractedSkill != nil),
		attribute.Bool("learning.promoted", out.Promoted),
	)
	return out
}

// inject retrieves relevant skills and adds them to the first context.
func (o *Orchestrator) inject(ctx context.Context, out *Outcome, ic loop.IterationContext) loop.IterationContext {
	hits, err := o.retriever.Retrieve(ctx, skills.RetrieveRequest{
		Task:         ic.Task,
		Files:        ic.Files,
		Domain:       ic.Domain,
		MaxSkills:    o.cfg.MaxInjected,
		PromotedOnly: o.cfg.PromotedOnly,
		MinQuality:   o.cfg.MinQuality,
	})
	if err != nil {
		out.fail(ctx, o.logger, "skill retrieval failed", err)
		return ic
	}
	if len(hits) == 0 {
		return ic
	}

	out.AppliedSkills = hits
	ic = ic.Clone()
	ic.LearnedSkills = make([]loop.SkillHint, 0, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ic.LearnedSkills = append(ic.LearnedSkills, loop.SkillHint{
			SkillID:      h.Skill.SkillID,
			Name:         h.Skill.Name,
			Relevance:    h.Score,
			Patterns:     head(h.Skill.Patterns, hintPatterns),
			AntiPatterns: head(h.Skill.AntiPatterns, hintAntiPatterns),
			Conditions:   slices.Clone(h.Skill.ApplicabilityConditions),
		})
		ids = append(ids, h.Skill.SkillID)
		if ce := o.logger.Check(logging.TraceLevel, "skill matched"); ce != nil {
			ce.Write(append(logging.ContextFields(ctx),
				zap.String("skill_id", h.Skill.SkillID),
				zap.Float64("relevance", h.Score),
				zap.Strings("matched_terms", h.MatchedTerms),
			)...)
		}
	}
	ic.LearningContext = fmt.Sprintf(
		"Found %d relevant learned skills. Consider applying their patterns and avoiding their anti-patterns.",
		len(hits))

	o.logger.Info("injected learned skills",
		append(logging.ContextFields(ctx), zap.Strings("skill_ids", ids))...)
	return ic
}

func (o *Orchestrator) recordFeedback(ctx context.Context, out *Outcome) {
	for _, rec := range out.Result.History {
		fb := &skills.IterationFeedback{
			SessionID:           out.SessionID,
			Iteration:           rec.Index,
			QualityBefore:       rec.InputQuality,
			QualityAfter:        rec.OutputQuality,
			ImprovementsApplied: rec.ImprovementsApplied,
			ImprovementsNeeded:  rec.ImprovementsNeeded,
			ChangedFiles:        rec.ChangedFiles,
			TestResults:         rec.Tests,
			DurationSeconds:     rec.ElapsedSeconds,
			Success:             rec.Succeeded,
			TerminationReason:   string(rec.TerminationReason),
			Timestamp:           rec.Timestamp,
		}
		if err := o.store.SaveFeedback(ctx, fb); err != nil {
			out.fail(ctx, o.logger, "saving iteration feedback failed", err)
			return
		}
	}
	o.logger.Debug("recorded iteration feedback",
		append(logging.ContextFields(ctx), zap.Int("iterations", len(out.Result.History)))...)
}

func (o *Orchestrator) extract(ctx context.Context, out *Outcome) {
	sk, err := o.extractor.ExtractFromSession(ctx, out.SessionID, out.RepoPath, out.Domain)
	if err == nil {
		err = o.store.SaveSkill(ctx, sk)
	}
	o.metrics.RecordExtracted(ctx, out.Domain, err == nil)

	switch {
	case errors.Is(err, skills.ErrNotExtractable):
		o.logger.Info("run succeeded but no skill was extracted",
			append(logging.ContextFields(ctx), zap.Error(err))...)
		return
	case err != nil:
		out.fail(ctx, o.logger, "skill extraction failed", err)
		return
	}

	out.ExtractedSkill = sk
	o.logger.Info("extracted and saved skill", append(logging.ContextFields(ctx),
		zap.String("skill_id", sk.SkillID), zap.String("skill_name", sk.Name))...)

	if o.cfg.AutoPromote {
		o.autoPromote(ctx, out, sk)
	}
}

func (o *Orchestrator) autoPromote(ctx context.Context, out *Outcome, sk *skills.LearnedSkill) {
	d, err := o.gate.Evaluate(ctx, sk)
	if err != nil {
		out.fail(ctx, o.logger, "promotion evaluation failed", err)
		return
	}
	if !d.ShouldPromote {
		o.logger.Debug("skill not ready for promotion", append(logging.ContextFields(ctx),
			zap.String("skill_id", sk.SkillID), zap.String("reason", d.Reason))...)
		return
	}
	path, err := o.gate.Promote(ctx, sk, d.Reason)
	if err != nil {
		out.fail(ctx, o.logger, "auto-promotion failed", err)
		return
	}
	out.Promoted = true
	out.PromotionPath = path
	o.metrics.RecordPromoted(ctx, "auto")
}

// recordApplications scores every injected skill against the run: helpful
// when quality was met, impact is the final score minus the first input.
func (o *Orchestrator) recordApplications(ctx context.Context, out *Outcome) {
	res := out.Result
	final := res.FinalScore()
	initial := 0.0
	if len(res.History) > 0 {
		initial = res.History[0].InputQuality
	}
	helpful := res.Succeeded()
	feedback := fmt.Sprintf("Final quality: %.1f, Termination: %s", final, res.Termination)

	for _, h := range out.AppliedSkills {
		err := o.store.RecordApplication(ctx, &skills.SkillApplication{
			SkillID:       h.Skill.SkillID,
			SessionID:     out.SessionID,
			WasHelpful:    helpful,
			QualityImpact: final - initial,
			Feedback:      feedback,
			AppliedAt:     o.now().UTC(),
		})
		if err != nil {
			out.fail(ctx, o.logger, "recording skill application failed", err)
		}
	}
}

// Stats returns store-wide learning statistics.
func (o *Orchestrator) Stats(ctx context.Context) (*skills.Stats, error) {
	return o.store.Stats(ctx)
}

func head(list []string, n int) []string {
	if len(list) > n {
		list = list[:n]
	}
	return slices.Clone(list)
}
