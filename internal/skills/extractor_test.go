package skills

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
)

const testSession = "a1b2c3d4e5f6"

func sessionRecords() []IterationFeedback {
	return []IterationFeedback{
		{
			SessionID: testSession, Iteration: 1, QualityBefore: 40, QualityAfter: 60,
			ImprovementsApplied: []string{"Add input validation", "Fix nil check"},
			ImprovementsNeeded:  []string{"Add tests"},
			ChangedFiles:        []string{"src/api/handler.go"},
			TestResults:         &quality.TestResults{Ran: true, Passed: 3},
			DurationSeconds:     4,
		},
		{
			SessionID: testSession, Iteration: 2, QualityBefore: 60, QualityAfter: 55,
			ImprovementsApplied: []string{"Refactor everything"},
			ImprovementsNeeded:  []string{"Improve coverage"},
			DurationSeconds:     3,
		},
		{
			SessionID: testSession, Iteration: 3, QualityBefore: 55, QualityAfter: 85,
			ImprovementsApplied: []string{"add input validation", "Increase coverage"},
			ChangedFiles:        []string{"src/api/handler.go"},
			DurationSeconds:     5.5,
			Success:             true,
			TerminationReason:   "quality_met",
		},
	}
}

func fixedClock() time.Time { return learnedAt }

func TestExtractor_Extract(t *testing.T) {
	e := NewExtractor(nil, WithExtractorClock(fixedClock))
	sk, err := e.Extract(testSession, "/repo", "backend", sessionRecords())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"[Iter 1] Add input validation",
		"[Iter 1] Fix nil check",
		"[Iter 3] Increase coverage",
	}, sk.Patterns)
	assert.Equal(t, []string{
		"[Unresolved] Add tests",
		"[Failed] Refactor everything",
		"[Unresolved] Improve coverage",
	}, sk.AntiPatterns)
	assert.Equal(t, []string{
		"api", "check", "coverage", "everything", "go", "handler.go",
		"increase", "input", "refactor", "validation",
	}, sk.Triggers)
	assert.Equal(t, []string{
		"File types: .go",
		"Project has test suite",
		"Complex task requiring multiple iterations",
	}, sk.ApplicabilityConditions)

	assert.Equal(t, SkillID(testSession, sk.Patterns), sk.SkillID)
	assert.True(t, strings.HasPrefix(sk.SkillID, "learned-"))
	assert.Len(t, sk.SkillID, len("learned-")+12)
	assert.Equal(t, "learned-backend-add-input-validation", sk.Name)
	assert.Equal(t, "Learned skill extracted from session a1b2c3d4", sk.Description)
	assert.Equal(t, 85.0, sk.QualityScore)
	assert.Equal(t, 3, sk.Iterations)
	assert.Equal(t, learnedAt, sk.LearnedAt)
	assert.False(t, sk.Promoted)

	assert.Equal(t, 12.5, sk.Provenance.TotalDuration)
	assert.Equal(t, "quality_met", sk.Provenance.TerminationReason)
	assert.Equal(t, []QualityStep{{1, 40, 60}, {2, 60, 55}, {3, 55, 85}}, sk.Provenance.QualityProgression)
}

func TestExtractor_Preconditions(t *testing.T) {
	e := NewExtractor(nil)
	recs := sessionRecords()

	tests := []struct {
		name    string
		records []IterationFeedback
	}{
		{"no records", nil},
		{"single record", recs[2:]},
		{"final not successful", func() []IterationFeedback {
			r := sessionRecords()
			r[2].Success = false
			return r
		}()},
		{"final quality too low", func() []IterationFeedback {
			r := sessionRecords()
			r[2].QualityAfter = 65
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sk, err := e.Extract(testSession, "", "", tt.records)
			assert.Nil(t, sk)
			assert.ErrorIs(t, err, ErrNotExtractable)
		})
	}
}

func TestExtractor_DeterministicIDs(t *testing.T) {
	e := NewExtractor(nil)
	a, err := e.Extract(testSession, "", "", sessionRecords())
	require.NoError(t, err)
	b, err := e.Extract(testSession, "", "", sessionRecords())
	require.NoError(t, err)
	c, err := e.Extract("other-session", "", "", sessionRecords())
	require.NoError(t, err)

	assert.Equal(t, a.SkillID, b.SkillID)
	assert.NotEqual(t, a.SkillID, c.SkillID)
	assert.Equal(t, "general", a.Domain)
	assert.Equal(t, "learned-general-add-input-validation", a.Name)
}

func TestExtractor_Caps(t *testing.T) {
	var applied []string
	for _, w := range strings.Fields("alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima mike november oscar papa") {
		applied = append(applied, "tune "+w)
	}
	recs := []IterationFeedback{
		{Iteration: 1, QualityBefore: 10, QualityAfter: 10, ImprovementsApplied: applied},
		{Iteration: 2, QualityBefore: 10, QualityAfter: 90, ImprovementsApplied: applied, Success: true},
	}
	sk, err := NewExtractor(nil).Extract(testSession, "", "", recs)
	require.NoError(t, err)
	assert.Len(t, sk.Patterns, MaxPatterns)
	assert.Len(t, sk.AntiPatterns, MaxAntiPatterns)
	assert.Len(t, sk.Triggers, MaxTriggers)
	assert.Equal(t, "learned-general-tune-alpha", sk.Name)
}

func TestSkillName(t *testing.T) {
	assert.Equal(t, "learned-data-skill", skillName(nil, "data"))
	assert.Equal(t, "learned-data-general", skillName([]string{"[Iter 1] do it"}, "data"))
	assert.Equal(t, "learned-data-use-pool", skillName([]string{"[Iter 0] Use a pool for connections"}, "data"))
}

type replaceRedactor struct{ secret string }

func (r replaceRedactor) Redact(s string) string {
	return strings.ReplaceAll(s, r.secret, "[REDACTED]")
}

func TestExtractor_RedactsBeforeDerivingID(t *testing.T) {
	recs := sessionRecords()
	recs[0].ImprovementsApplied = []string{"Rotate key sk-live-123"}
	e := NewExtractor(nil, WithRedactor(replaceRedactor{secret: "sk-live-123"}))

	sk, err := e.Extract(testSession, "", "", recs)
	require.NoError(t, err)
	assert.Equal(t, "[Iter 1] Rotate key [REDACTED]", sk.Patterns[0])
	assert.Equal(t, SkillID(testSession, sk.Patterns), sk.SkillID)
	assert.Equal(t, "Rotate key sk-live-123", recs[0].ImprovementsApplied[0])
}

func TestExtractor_FromStore(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	for _, r := range sessionRecords() {
		require.NoError(t, s.SaveFeedback(ctx, &r))
	}

	sk, err := NewExtractor(s).ExtractFromSession(ctx, testSession, "/repo", "backend")
	require.NoError(t, err)
	assert.Len(t, sk.Patterns, 3)

	require.NoError(t, s.SaveSkill(ctx, sk))
	back, err := s.GetSkill(ctx, sk.SkillID)
	require.NoError(t, err)
	assert.Equal(t, sk.Patterns, back.Patterns)
	assert.Equal(t, sk.AntiPatterns, back.AntiPatterns)
	assert.Equal(t, sk.Triggers, back.Triggers)

	_, err = NewExtractor(s).ExtractFromSession(ctx, "empty-session", "", "")
	assert.ErrorIs(t, err, ErrNotExtractable)
}
