package skills

import (
	"cmp"
	"context"
	"slices"
	"strings"
)

// ResourceKind names a class of persisted file.
type ResourceKind string

const (
	ResourceSkill        ResourceKind = "skill"
	ResourceFeedback     ResourceKind = "feedback"
	ResourceApplications ResourceKind = "applications"
)

// Resource identifies the single file a mutating operation touches. Locks
// are scoped per resource so writers to different skills or sessions never
// contend.
type Resource struct {
	Kind ResourceKind
	ID   string
}

// Store persists skills, iteration feedback and application records.
type Store interface {
	SaveSkill(ctx context.Context, skill *LearnedSkill) error
	GetSkill(ctx context.Context, id string) (*LearnedSkill, error)
	DeleteSkill(ctx context.Context, id string) error
	ListSkills(ctx context.Context) ([]*LearnedSkill, error)
	PromotedSkills(ctx context.Context) ([]*LearnedSkill, error)
	SkillsByDomain(ctx context.Context, domain string) ([]*LearnedSkill, error)
	SearchSkills(ctx context.Context, q SearchQuery) ([]*LearnedSkill, error)

	SaveFeedback(ctx context.Context, fb *IterationFeedback) error
	SessionFeedback(ctx context.Context, sessionID string) ([]IterationFeedback, error)

	RecordApplication(ctx context.Context, app *SkillApplication) error
	Effectiveness(ctx context.Context, skillID string) (*Effectiveness, error)
	BulkEffectiveness(ctx context.Context, skillIDs []string) (map[string]*Effectiveness, error)

	Stats(ctx context.Context) (*Stats, error)

	// LockScope returns the lock keys a write to r acquires.
	LockScope(r Resource) []string

	Close() error
}

// filterSkills applies q to all and orders the result by quality, highest
// first.
func filterSkills(all []*LearnedSkill, q SearchQuery) []*LearnedSkill {
	terms := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}

	var out []*LearnedSkill
	for _, s := range all {
		if s.QualityScore < q.MinQuality {
			continue
		}
		if q.Domain != "" && s.Domain != q.Domain {
			continue
		}
		if q.PromotedOnly && !s.Promoted {
			continue
		}
		if len(terms) > 0 && triggerOverlap(s.Triggers, terms) == 0 {
			continue
		}
		out = append(out, s)
	}
	sortByQuality(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// triggerOverlap counts triggers that appear in terms, case-insensitively.
// terms must already be lowercase.
func triggerOverlap(triggers, terms []string) int {
	n := 0
	for _, t := range triggers {
		if slices.Contains(terms, strings.ToLower(t)) {
			n++
		}
	}
	return n
}

func sortByQuality(list []*LearnedSkill) {
	slices.SortStableFunc(list, func(a, b *LearnedSkill) int {
		if c := cmp.Compare(b.QualityScore, a.QualityScore); c != 0 {
			return c
		}
		return strings.Compare(a.SkillID, b.SkillID)
	})
}

func computeStats(list []*LearnedSkill, feedback int, apps []SkillApplication) *Stats {
	st := &Stats{TotalSkills: len(list), FeedbackRecords: feedback, Applications: len(apps)}
	var total float64
	for _, s := range list {
		total += s.QualityScore
		if s.Promoted {
			st.PromotedSkills++
		}
	}
	if len(list) > 0 {
		st.AvgQuality = total / float64(len(list))
	}
	for _, a := range apps {
		if a.WasHelpful {
			st.HelpfulApplications++
		}
	}
	if len(apps) > 0 {
		st.SuccessRate = float64(st.HelpfulApplications) / float64(len(apps))
	}
	return st
}
