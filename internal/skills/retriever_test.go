package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	Store
	single int
	bulk   int
}

func (c *countingStore) Effectiveness(ctx context.Context, id string) (*Effectiveness, error) {
	c.single++
	return c.Store.Effectiveness(ctx, id)
}

func (c *countingStore) BulkEffectiveness(ctx context.Context, ids []string) (map[string]*Effectiveness, error) {
	c.bulk++
	return c.Store.BulkEffectiveness(ctx, ids)
}

func seedRetrieval(t *testing.T) *countingStore {
	t.Helper()
	fs, _ := newFileStore(t)
	ctx := context.Background()

	a := sampleSkill("learned-a", 90, "api", "handler.go", "go", "validation")
	a.Promoted = true
	b := sampleSkill("learned-b", 60, "api", "frontend")
	b.Domain = "frontend"
	c := sampleSkill("learned-c", 95, "css")
	d := sampleSkill("learned-d", 40, "api")
	for _, sk := range []*LearnedSkill{a, b, c, d} {
		require.NoError(t, fs.SaveSkill(ctx, sk))
	}
	require.NoError(t, fs.RecordApplication(ctx, &SkillApplication{SkillID: "learned-a", WasHelpful: true}))
	require.NoError(t, fs.RecordApplication(ctx, &SkillApplication{SkillID: "learned-a", WasHelpful: false}))
	return &countingStore{Store: fs}
}

func TestRetriever_Ranks(t *testing.T) {
	store := seedRetrieval(t)
	r := NewRetriever(store)

	got, err := r.Retrieve(context.Background(), RetrieveRequest{
		Task:  "Add validation to the API handler",
		Files: []string{"src/api/handler.go"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "learned-a", got[0].Skill.SkillID)
	assert.InDelta(t, 0.4+0.27+0.2+0.05, got[0].Score, 1e-9)
	assert.ElementsMatch(t, []string{"api", "handler.go", "go", "validation"}, got[0].MatchedTerms)

	assert.Equal(t, "learned-b", got[1].Skill.SkillID)
	assert.InDelta(t, 0.2+0.18, got[1].Score, 1e-9)

	assert.Equal(t, 1, store.bulk)
	assert.Equal(t, 0, store.single)
}

func TestRetriever_Filters(t *testing.T) {
	ctx := context.Background()
	base := RetrieveRequest{Task: "Add validation to the API handler", Files: []string{"src/api/handler.go"}}

	tests := []struct {
		name   string
		mutate func(*RetrieveRequest)
		want   []string
	}{
		{"promoted only", func(r *RetrieveRequest) { r.PromotedOnly = true }, []string{"learned-a"}},
		{"max skills", func(r *RetrieveRequest) { r.MaxSkills = 1 }, []string{"learned-a"}},
		{"domain", func(r *RetrieveRequest) { r.Domain = "frontend" }, []string{"learned-b"}},
		{"quality floor override", func(r *RetrieveRequest) { r.MinQuality = 30 }, []string{"learned-a", "learned-d", "learned-b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			got, err := NewRetriever(seedRetrieval(t)).Retrieve(ctx, req)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, s := range got {
				ids[i] = s.Skill.SkillID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRetriever_NoTerms(t *testing.T) {
	store := seedRetrieval(t)
	got, err := NewRetriever(store).Retrieve(context.Background(), RetrieveRequest{Task: "do it"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, store.bulk)
}

func TestRelevance(t *testing.T) {
	sk := &LearnedSkill{QualityScore: 50}
	assert.InDelta(t, 0.15, Relevance(sk, 0, nil), 1e-9)

	sk = &LearnedSkill{QualityScore: 100, Promoted: true, Triggers: []string{"a", "b"}}
	assert.InDelta(t, 0.2+0.3+0.2+0.1, Relevance(sk, 1, &Effectiveness{Applications: 4, SuccessRate: 1}), 1e-9)
	assert.InDelta(t, 0.7, Relevance(sk, 1, &Effectiveness{SuccessRate: 1}), 1e-9)
}
