package skills

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

// Retrieval defaults.
const (
	DefaultMaxSkills       = 3
	DefaultMinRetrieveQual = 50.0
)

// Relevance weights.
const (
	weightTriggers      = 0.4
	weightQuality       = 0.3
	bonusPromoted       = 0.2
	weightEffectiveness = 0.1
)

// RetrieveRequest describes the task skills are ranked against.
type RetrieveRequest struct {
	Task         string
	Files        []string
	Domain       string
	MaxSkills    int
	PromotedOnly bool
	// MinQuality overrides DefaultMinRetrieveQual when positive.
	MinQuality float64
}

// ScoredSkill is a retrieval hit.
type ScoredSkill struct {
	Skill        *LearnedSkill `json:"skill"`
	Score        float64       `json:"score"`
	MatchedTerms []string      `json:"matched_terms"`
}

// Retriever ranks stored skills for a task.
type Retriever struct {
	store Store
}

// NewRetriever creates a Retriever over store.
func NewRetriever(store Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns up to MaxSkills skills sharing at least one trigger with
// the task, ordered by relevance.
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) ([]ScoredSkill, error) {
	terms := Terms(req.Task, req.Files)
	if len(terms) == 0 {
		return nil, nil
	}
	minQ := req.MinQuality
	if minQ <= 0 {
		minQ = DefaultMinRetrieveQual
	}
	limit := req.MaxSkills
	if limit <= 0 {
		limit = DefaultMaxSkills
	}

	candidates, err := r.store.SearchSkills(ctx, SearchQuery{
		Terms:        terms,
		Domain:       req.Domain,
		MinQuality:   minQ,
		PromotedOnly: req.PromotedOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("searching skills: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SkillID
	}
	eff, err := r.store.BulkEffectiveness(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading effectiveness: %w", err)
	}

	scored := make([]ScoredSkill, 0, len(candidates))
	for _, c := range candidates {
		matched := matchedTerms(c.Triggers, terms)
		if len(matched) == 0 {
			continue
		}
		scored = append(scored, ScoredSkill{
			Skill:        c,
			Score:        Relevance(c, len(matched), eff[c.SkillID]),
			MatchedTerms: matched,
		})
	}
	slices.SortStableFunc(scored, func(a, b ScoredSkill) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Relevance scores a skill given how many of its triggers matched.
func Relevance(s *LearnedSkill, matched int, eff *Effectiveness) float64 {
	var score float64
	if n := len(s.Triggers); n > 0 {
		score += weightTriggers * float64(matched) / float64(n)
	}
	score += weightQuality * s.QualityScore / 100
	if s.Promoted {
		score += bonusPromoted
	}
	if eff != nil && eff.Applications > 0 {
		score += weightEffectiveness * eff.SuccessRate
	}
	return score
}

func matchedTerms(triggers, terms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range triggers {
		t = strings.ToLower(t)
		if !seen[t] && slices.Contains(terms, t) {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
