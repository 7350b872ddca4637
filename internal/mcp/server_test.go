package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

func newTestStore(t *testing.T) *skills.FileStore {
	t.Helper()
	root := t.TempDir()
	store, err := skills.NewFileStore(filepath.Join(root, "skills"), filepath.Join(root, "feedback"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSkill(id string, quality float64, triggers ...string) *skills.LearnedSkill {
	return &skills.LearnedSkill{
		SkillID:                 id,
		Name:                    "learned-backend-" + id,
		Description:             "Learned skill extracted from session sess-001",
		Triggers:                triggers,
		Domain:                  "backend",
		SourceSession:           "sess-000001",
		LearnedAt:               time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Patterns:                []string{"[Iter 1] Add retry with backoff"},
		QualityScore:            quality,
		Iterations:              2,
		ApplicabilityConditions: []string{"File types: .go"},
	}
}

func newTestServer(t *testing.T, inbox review.Desk) (*Server, *skills.FileStore) {
	t.Helper()
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Logger = zap.NewNop()
	s, err := NewServer(cfg, store, nil, inbox)
	require.NoError(t, err)
	return s, store
}

func TestNewServer(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewServer(nil, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "skill store is required")
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		s, err := NewServer(nil, newTestStore(t), nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, s.gate)
		assert.NotNil(t, s.logger)
	})

	t.Run("partial config keeps defaults", func(t *testing.T) {
		c := (&Config{Version: "1.2.3"}).withDefaults()
		assert.Equal(t, "skillloop", c.Name)
		assert.Equal(t, "1.2.3", c.Version)
		assert.Equal(t, defaultInstructions, c.Instructions)
		assert.NotNil(t, c.Logger)
	})
}

func TestSkillSearch(t *testing.T) {
	ctx := context.Background()
	s, store := newTestServer(t, nil)
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-aaaaaaaaaaaa", 90, "retry", "api")))
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-bbbbbbbbbbbb", 70, "retry")))
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-cccccccccccc", 95, "kubernetes")))

	t.Run("ranks by relevance", func(t *testing.T) {
		out, text, err := s.skillSearch(ctx, skillSearchInput{Query: "retry flaky request", Files: []string{"internal/api/client.go"}})
		require.NoError(t, err)
		require.Equal(t, 2, out.Count)
		assert.Equal(t, "learned-aaaaaaaaaaaa", out.Skills[0].SkillID)
		assert.ElementsMatch(t, []string{"retry", "api"}, out.Skills[0].MatchedTerms)
		assert.Greater(t, out.Skills[0].Relevance, out.Skills[1].Relevance)
		assert.Equal(t, "Found 2 relevant skills", text)
	})

	t.Run("limit", func(t *testing.T) {
		out, _, err := s.skillSearch(ctx, skillSearchInput{Query: "retry", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Count)
	})

	t.Run("empty query rejected", func(t *testing.T) {
		_, _, err := s.skillSearch(ctx, skillSearchInput{Query: "  "})
		require.Error(t, err)
		assert.ErrorIs(t, err, errInvalidInput)
	})

	t.Run("no matches is empty not nil", func(t *testing.T) {
		out, _, err := s.skillSearch(ctx, skillSearchInput{Query: "graphql schema"})
		require.NoError(t, err)
		assert.NotNil(t, out.Skills)
		assert.Zero(t, out.Count)
	})
}

func TestSkillGet(t *testing.T) {
	ctx := context.Background()
	s, store := newTestServer(t, nil)
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-aaaaaaaaaaaa", 90, "retry")))
	require.NoError(t, store.RecordApplication(ctx, &skills.SkillApplication{
		SkillID: "learned-aaaaaaaaaaaa", SessionID: "sess-2", WasHelpful: true, QualityImpact: 12,
	}))

	out, _, err := s.skillGet(ctx, skillGetInput{SkillID: "learned-aaaaaaaaaaaa"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T00:00:00Z", out.LearnedAt)
	assert.Equal(t, []string{"File types: .go"}, out.Conditions)
	assert.NotNil(t, out.AntiPatterns)
	assert.Equal(t, 1, out.Effectiveness.Applications)
	assert.Equal(t, 1.0, out.Effectiveness.SuccessRate)

	_, _, err = s.skillGet(ctx, skillGetInput{SkillID: "learned-ffffffffffff"})
	require.ErrorIs(t, err, skills.ErrSkillNotFound)
}

func TestSkillPromote(t *testing.T) {
	ctx := context.Background()

	t.Run("rejection is a result", func(t *testing.T) {
		s, store := newTestServer(t, nil)
		require.NoError(t, store.SaveSkill(ctx, testSkill("learned-aaaaaaaaaaaa", 80, "retry")))

		out, text, err := s.skillPromote(ctx, skillPromoteInput{SkillID: "learned-aaaaaaaaaaaa"})
		require.NoError(t, err)
		assert.False(t, out.Promoted)
		assert.Contains(t, out.Reason, "Quality score 80.0 below threshold 85.0")
		assert.Contains(t, out.Reason, "Only 0 applications, need 2")
		assert.Contains(t, text, "Not promoted")
	})

	t.Run("promotes qualifying skill", func(t *testing.T) {
		s, store := newTestServer(t, nil)
		require.NoError(t, store.SaveSkill(ctx, testSkill("learned-aaaaaaaaaaaa", 92, "retry")))
		for range 3 {
			require.NoError(t, store.RecordApplication(ctx, &skills.SkillApplication{
				SkillID: "learned-aaaaaaaaaaaa", SessionID: "sess-2", WasHelpful: true,
			}))
		}

		out, _, err := s.skillPromote(ctx, skillPromoteInput{SkillID: "learned-aaaaaaaaaaaa"})
		require.NoError(t, err)
		assert.True(t, out.Promoted)
		assert.Equal(t, "Meets all promotion criteria", out.Reason)
		assert.Equal(t, 3, out.Effectiveness.Applications)

		again, text, err := s.skillPromote(ctx, skillPromoteInput{SkillID: "learned-aaaaaaaaaaaa"})
		require.NoError(t, err)
		assert.True(t, again.Promoted)
		assert.Equal(t, "Skill already promoted", text)

		pending, _, err := s.skillPending(ctx, skillPendingInput{})
		require.NoError(t, err)
		assert.Zero(t, pending.Count)
	})
}

func TestSkillStats(t *testing.T) {
	ctx := context.Background()
	s, store := newTestServer(t, nil)
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-aaaaaaaaaaaa", 90, "retry")))
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-bbbbbbbbbbbb", 80, "retry")))

	st, text, err := s.skillStats(ctx, skillStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalSkills)
	assert.InDelta(t, 85.0, st.AvgQuality, 1e-9)
	assert.Contains(t, text, "2 skills (0 promoted)")
}

func TestReviewTools(t *testing.T) {
	ctx := context.Background()
	inbox := review.NewInbox()
	require.NoError(t, inbox.Publish(ctx, &review.Signal{
		ID: "sig-1", LoopID: "loop-1", Kind: review.KindReview, Iteration: 1, Instruction: "Review the change",
	}))
	s, _ := newTestServer(t, inbox)

	pending, _, err := s.reviewPending(ctx, reviewPendingInput{})
	require.NoError(t, err)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, "sig-1", pending.Signals[0].SignalID)
	assert.NotNil(t, pending.Signals[0].Files)

	_, _, err = s.reviewSubmit(ctx, reviewSubmitInput{SignalID: "sig-404"})
	require.ErrorIs(t, err, review.ErrUnknownSignal)
	assert.Equal(t, outcomeNotFound, outcome(err))

	out, _, err := s.reviewSubmit(ctx, reviewSubmitInput{
		SignalID: "sig-1",
		IssuesFound: []review.Finding{
			{Severity: review.SeverityCritical, Description: "SQL built from user input", File: "db.go"},
		},
	})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, 1, out.IssuesFound)

	r, ok := inbox.Lookup("sig-1")
	require.True(t, ok)
	require.Len(t, r.IssuesFound, 1)
	assert.Equal(t, review.SeverityCritical, r.IssuesFound[0].Severity)
	assert.Empty(t, inbox.Pending())
}

// forwardingDesk stands in for a NATS-backed desk and records what was
// forwarded to the loop's process.
type forwardingDesk struct {
	*review.Inbox
	forwarded map[string]*review.Result
}

func (d *forwardingDesk) Submit(ctx context.Context, signalID string, r *review.Result) error {
	if err := d.Inbox.Submit(ctx, signalID, r); err != nil {
		return err
	}
	d.forwarded[signalID] = r
	return nil
}

func TestReviewSubmitGoesThroughDesk(t *testing.T) {
	ctx := context.Background()
	desk := &forwardingDesk{Inbox: review.NewInbox(), forwarded: map[string]*review.Result{}}
	require.NoError(t, desk.Publish(ctx, &review.Signal{ID: "sig-remote", LoopID: "loop-9", Kind: review.KindFinal}))
	s, _ := newTestServer(t, desk)

	_, _, err := s.reviewSubmit(ctx, reviewSubmitInput{
		SignalID:    "sig-remote",
		IssuesFound: []review.Finding{{Severity: review.SeverityLow, Description: "typo in log message"}},
	})
	require.NoError(t, err)
	require.Contains(t, desk.forwarded, "sig-remote")
	assert.JSONEq(t,
		`{"issues_found":[{"severity":"low","description":"typo in log message"}]}`,
		string(desk.forwarded["sig-remote"].Payload()))
}

func TestServerOverTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, store := newTestServer(t, review.NewInbox())
	require.NoError(t, store.SaveSkill(ctx, testSkill("learned-aaaaaaaaaaaa", 90, "retry")))

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverT)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"review_pending", "review_submit",
		"skill_get", "skill_pending", "skill_promote", "skill_search", "skill_stats",
	}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "skill_search",
		Arguments: map[string]any{"query": "retry the upload"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out skillListOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "learned-aaaaaaaaaaaa", out.Skills[0].SkillID)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "skill_get",
		Arguments: map[string]any{"skill_id": "learned-ffffffffffff"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
