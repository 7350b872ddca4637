package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Extraction thresholds.
const (
	MinExtractIterations = 2
	MinExtractQuality    = 70.0
	DefaultDomain        = "general"
)

// Redactor scrubs sensitive values from text before it is persisted.
type Redactor interface {
	Redact(text string) string
}

// Extractor mines a session's feedback log into a candidate skill.
type Extractor struct {
	store    Store
	redactor Redactor
	logger   *zap.Logger
	now      func() time.Time
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithRedactor scrubs improvement text before patterns and ids are derived.
func WithRedactor(r Redactor) ExtractorOption {
	return func(e *Extractor) { e.redactor = r }
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExtractorClock overrides the learned-at clock.
func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

// NewExtractor creates an Extractor reading feedback from store.
func NewExtractor(store Store, opts ...ExtractorOption) *Extractor {
	e := &Extractor{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("skills.extractor")
	return e
}

// ExtractFromSession builds a skill from the session's feedback. It returns
// ErrNotExtractable when the session is too short or did not succeed.
func (e *Extractor) ExtractFromSession(ctx context.Context, sessionID, repoPath, domain string) (*LearnedSkill, error) {
	records, err := e.store.SessionFeedback(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading feedback for %s: %w", sessionID, err)
	}
	sk, err := e.Extract(sessionID, repoPath, domain, records)
	if err != nil {
		e.logger.Debug("session not extractable",
			zap.String("session_id", sessionID), zap.Int("records", len(records)), zap.Error(err))
		return nil, err
	}
	e.logger.Info("skill extracted",
		zap.String("session_id", sessionID),
		zap.String("skill_id", sk.SkillID),
		zap.Int("patterns", len(sk.Patterns)),
		zap.Float64("quality_score", sk.QualityScore))
	return sk, nil
}

// Extract builds a skill from records without touching storage.
func (e *Extractor) Extract(sessionID, repoPath, domain string, records []IterationFeedback) (*LearnedSkill, error) {
	if len(records) < MinExtractIterations {
		return nil, fmt.Errorf("%w: %d feedback record(s), need %d", ErrNotExtractable, len(records), MinExtractIterations)
	}
	final := records[len(records)-1]
	if !final.Success {
		return nil, fmt.Errorf("%w: final iteration did not succeed", ErrNotExtractable)
	}
	if final.QualityAfter < MinExtractQuality {
		return nil, fmt.Errorf("%w: final quality %.1f below %.0f", ErrNotExtractable, final.QualityAfter, MinExtractQuality)
	}
	if domain == "" {
		domain = DefaultDomain
	}

	records = e.redact(records)
	patterns := extractPatterns(records)

	progression := make([]QualityStep, len(records))
	var total float64
	for i, r := range records {
		progression[i] = QualityStep{Iteration: r.Iteration, Before: r.QualityBefore, After: r.QualityAfter}
		total += r.DurationSeconds
	}

	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}

	return &LearnedSkill{
		SkillID:       SkillID(sessionID, patterns),
		Name:          skillName(patterns, domain),
		Description:   "Learned skill extracted from session " + short,
		Triggers:      extractTriggers(records),
		Domain:        domain,
		SourceSession: sessionID,
		SourceRepo:    repoPath,
		LearnedAt:     e.now().UTC(),
		Patterns:      patterns,
		AntiPatterns:  extractAntiPatterns(records),
		QualityScore:  final.QualityAfter,
		Iterations:    len(records),
		Provenance: Provenance{
			SessionID:          sessionID,
			RepoPath:           repoPath,
			Iterations:         len(records),
			QualityProgression: progression,
			TotalDuration:      total,
			TerminationReason:  final.TerminationReason,
		},
		ApplicabilityConditions: extractConditions(records),
	}, nil
}

func (e *Extractor) redact(records []IterationFeedback) []IterationFeedback {
	if e.redactor == nil {
		return records
	}
	out := make([]IterationFeedback, len(records))
	for i, r := range records {
		r.ImprovementsApplied = redactAll(e.redactor, r.ImprovementsApplied)
		r.ImprovementsNeeded = redactAll(e.redactor, r.ImprovementsNeeded)
		out[i] = r
	}
	return out
}

func redactAll(r Redactor, in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.Redact(s)
	}
	return out
}

// SkillID derives the deterministic id for a session's patterns.
func SkillID(sessionID string, patterns []string) string {
	sum := sha256.Sum256([]byte(sessionID + ":" + strings.Join(patterns, ":")))
	return "learned-" + hex.EncodeToString(sum[:])[:12]
}

// stripTag removes a leading "[...] " marker.
func stripTag(p string) string {
	if _, rest, ok := strings.Cut(p, "] "); ok {
		return rest
	}
	return p
}

func extractPatterns(records []IterationFeedback) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range records {
		if r.QualityAfter <= r.QualityBefore {
			continue
		}
		for _, imp := range r.ImprovementsApplied {
			key := strings.ToLower(strings.TrimSpace(imp))
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, fmt.Sprintf("[Iter %d] %s", r.Iteration, imp))
		}
	}
	if len(out) > MaxPatterns {
		out = out[:MaxPatterns]
	}
	return out
}

func extractAntiPatterns(records []IterationFeedback) []string {
	var out []string
	for _, r := range records {
		if r.QualityAfter <= r.QualityBefore {
			for _, imp := range r.ImprovementsApplied {
				out = append(out, "[Failed] "+imp)
			}
		}
		if !r.Success {
			for _, need := range r.ImprovementsNeeded {
				out = append(out, "[Unresolved] "+need)
			}
		}
	}
	if len(out) > MaxAntiPatterns {
		out = out[:MaxAntiPatterns]
	}
	return out
}

func extractTriggers(records []IterationFeedback) []string {
	t := termSet{}
	for _, r := range records {
		for _, f := range r.ChangedFiles {
			t.addPath(f)
		}
		for _, imp := range r.ImprovementsApplied {
			t.addText(imp)
		}
	}
	out := t.sorted()
	if len(out) > MaxTriggers {
		out = out[:MaxTriggers]
	}
	return out
}

func extractConditions(records []IterationFeedback) []string {
	exts := map[string]bool{}
	tests := false
	for _, r := range records {
		for _, f := range r.ChangedFiles {
			if ext := fileExt(f); ext != "" {
				exts[ext] = true
			}
		}
		if r.TestResults != nil && r.TestResults.Ran {
			tests = true
		}
	}

	var out []string
	if len(exts) > 0 {
		list := make([]string, 0, len(exts))
		for ext := range exts {
			list = append(list, ext)
		}
		slices.Sort(list)
		out = append(out, "File types: "+strings.Join(list, ", "))
	}
	if tests {
		out = append(out, "Project has test suite")
	}
	if len(records) >= 3 {
		out = append(out, "Complex task requiring multiple iterations")
	}
	return out
}

func fileExt(path string) string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[i:]
	}
	return ""
}

func skillName(patterns []string, domain string) string {
	if len(patterns) == 0 {
		return "learned-" + domain + "-skill"
	}
	var words []string
	for _, w := range strings.Fields(stripTag(patterns[0])) {
		if len(words) == 3 {
			break
		}
		words = append(words, w)
	}
	var kept []string
	for _, w := range words {
		if len([]rune(w)) > 2 {
			kept = append(kept, strings.ToLower(w))
		}
	}
	part := "general"
	if len(kept) > 0 {
		part = strings.Join(kept, "-")
	}
	return "learned-" + domain + "-" + part
}
