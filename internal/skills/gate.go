package skills

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/skillloop/internal/skills")

// Promotion thresholds.
const (
	PromoteMinQuality      = 85.0
	PromoteMinApplications = 2
	PromoteMinSuccessRate  = 0.7
	// PendingQualityMargin widens the quality floor for ListPending.
	PendingQualityMargin = 10.0
)

// Decision is the outcome of Evaluate.
type Decision struct {
	ShouldPromote bool           `json:"should_promote"`
	Reason        string         `json:"reason"`
	Effectiveness *Effectiveness `json:"effectiveness,omitempty"`
}

// Gate decides and performs skill promotion.
type Gate struct {
	store     Store
	exportDir string
	logger    *zap.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithExportDir also writes SKILL.md and metadata.yaml for promoted skills
// into dir/{skill_id}.
func WithExportDir(dir string) GateOption {
	return func(g *Gate) { g.exportDir = dir }
}

// WithGateLogger sets the logger.
func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate creates a Gate over store.
func NewGate(store Store, opts ...GateOption) *Gate {
	g := &Gate{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("skills.gate")
	return g
}

// Evaluate checks skill against the promotion thresholds. All failing
// criteria are reported, joined by "; ".
func (g *Gate) Evaluate(ctx context.Context, skill *LearnedSkill) (Decision, error) {
	eff, err := g.store.Effectiveness(ctx, skill.SkillID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading effectiveness for %s: %w", skill.SkillID, err)
	}

	var reasons []string
	if skill.QualityScore < PromoteMinQuality {
		reasons = append(reasons, fmt.Sprintf("Quality score %.1f below threshold %.1f",
			skill.QualityScore, PromoteMinQuality))
	}
	if eff.Applications < PromoteMinApplications {
		reasons = append(reasons, fmt.Sprintf("Only %d applications, need %d",
			eff.Applications, PromoteMinApplications))
	} else if eff.SuccessRate < PromoteMinSuccessRate {
		reasons = append(reasons, fmt.Sprintf("Success rate %.1f%% below %.0f%%",
			eff.SuccessRate*100, PromoteMinSuccessRate*100))
	}

	if len(reasons) > 0 {
		return Decision{Reason: strings.Join(reasons, "; "), Effectiveness: eff}, nil
	}
	return Decision{ShouldPromote: true, Reason: "Meets all promotion criteria", Effectiveness: eff}, nil
}

// Promote re-evaluates skill and, if it qualifies, marks it promoted and
// persists it. It returns the path of the rendered document. On any write
// failure the skill's flags are restored, export files are returned to
// their previous content and the stored record is put back.
func (g *Gate) Promote(ctx context.Context, skill *LearnedSkill, reason string) (string, error) {
	ctx, span := tracer.Start(ctx, "skills.Promote",
		trace.WithAttributes(attribute.String("skill.id", skill.SkillID)))
	defer span.End()

	path, err := g.promote(ctx, skill, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return path, err
}

func (g *Gate) promote(ctx context.Context, skill *LearnedSkill, reason string) (string, error) {
	d, err := g.Evaluate(ctx, skill)
	if err != nil {
		return "", err
	}
	if !d.ShouldPromote {
		return "", fmt.Errorf("%w: %s", ErrPromotionRejected, d.Reason)
	}

	prev, err := g.store.GetSkill(ctx, skill.SkillID)
	if err != nil && !errors.Is(err, ErrSkillNotFound) {
		return "", err
	}

	origPromoted, origReason := skill.Promoted, skill.PromotionReason
	skill.Promoted = true
	skill.PromotionReason = reason
	if reason == "" {
		skill.PromotionReason = d.Reason
	}

	docPath, err := g.persist(ctx, skill)
	if err != nil {
		skill.Promoted, skill.PromotionReason = origPromoted, origReason
		g.restore(ctx, skill.SkillID, prev)
		g.logger.Error("promotion failed",
			zap.String("skill_id", skill.SkillID), zap.Error(err))
		return "", fmt.Errorf("promoting %s: %w", skill.SkillID, err)
	}

	g.logger.Info("skill promoted",
		zap.String("skill_id", skill.SkillID),
		zap.String("reason", skill.PromotionReason),
		zap.String("path", docPath))
	return docPath, nil
}

func (g *Gate) persist(ctx context.Context, skill *LearnedSkill) (string, error) {
	var docPath string
	undo := func() {}
	if g.exportDir != "" {
		p, u, err := g.export(skill)
		if err != nil {
			return "", err
		}
		docPath, undo = p, u
	}
	if err := g.store.SaveSkill(ctx, skill); err != nil {
		undo()
		return "", err
	}
	if docPath == "" {
		if fs, ok := g.store.(*FileStore); ok {
			docPath = fs.DocumentPath(skill.SkillID)
		}
	}
	return docPath, nil
}

// priorFile is an export file's content before this promotion touched it.
type priorFile struct {
	path    string
	data    []byte
	existed bool
}

// export writes metadata.yaml and SKILL.md under exclusive locks. The
// returned undo puts every touched file back the way it was and removes
// the directory if this call created it and it is left empty.
func (g *Gate) export(skill *LearnedSkill) (string, func(), error) {
	if err := checkID("skill", skill.SkillID); err != nil {
		return "", nil, err
	}
	meta, err := yaml.Marshal(skill)
	if err != nil {
		return "", nil, err
	}
	doc, err := RenderDocument(skill)
	if err != nil {
		return "", nil, err
	}

	dir := filepath.Join(g.exportDir, skill.SkillID)
	_, statErr := os.Stat(dir)
	createdDir := errors.Is(statErr, os.ErrNotExist)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	var touched []priorFile
	undo := func() {
		for i := len(touched) - 1; i >= 0; i-- {
			g.putBack(touched[i])
		}
		if createdDir {
			if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
				_ = os.Remove(dir)
			}
		}
	}

	docPath := filepath.Join(dir, DocumentFile)
	for _, f := range []struct {
		path string
		data []byte
	}{
		{filepath.Join(dir, metadataFile), meta},
		{docPath, doc},
	} {
		prior, err := readPrior(f.path)
		if err != nil {
			undo()
			return "", nil, err
		}
		touched = append(touched, prior)
		if err := writeExclusive(f.path, f.data); err != nil {
			undo()
			return "", nil, err
		}
	}
	return docPath, undo, nil
}

func readPrior(path string) (priorFile, error) {
	data, err := readLocked(path)
	if errors.Is(err, os.ErrNotExist) {
		return priorFile{path: path}, nil
	}
	if err != nil {
		return priorFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return priorFile{path: path, data: data, existed: true}, nil
}

func (g *Gate) putBack(p priorFile) {
	var err error
	if p.existed {
		err = writeExclusive(p.path, p.data)
	} else if err = os.Remove(p.path); errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if err != nil {
		g.logger.Warn("cleanup failed", zap.String("path", p.path), zap.Error(err))
	}
}

// restore puts the stored record back to its pre-promotion state.
func (g *Gate) restore(ctx context.Context, id string, prev *LearnedSkill) {
	var err error
	if prev != nil {
		err = g.store.SaveSkill(ctx, prev)
	} else {
		err = g.store.DeleteSkill(ctx, id)
		if errors.Is(err, ErrSkillNotFound) {
			err = nil
		}
	}
	if err != nil {
		g.logger.Warn("restoring stored skill failed", zap.String("skill_id", id), zap.Error(err))
	}
}

// ListPending returns unpromoted skills within PendingQualityMargin of the
// promotion threshold, best first.
func (g *Gate) ListPending(ctx context.Context) ([]*LearnedSkill, error) {
	all, err := g.store.SearchSkills(ctx, SearchQuery{MinQuality: PromoteMinQuality - PendingQualityMargin})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if !s.Promoted {
			out = append(out, s)
		}
	}
	return out, nil
}
