package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/skillloop/internal/learning"
	"github.com/fyrsmithlabs/skillloop/internal/loop"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

// setupHome points HOME at a temp dir so the default config location and
// skill directories live under it.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SKILLLOOP_LOGGING_LEVEL", "error")
	return home
}

func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".config", "skillloop")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
}

// performerScript writes a performer that reports partial evidence on its
// first call and complete evidence afterwards.
func performerScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	marker := filepath.Join(dir, "called")
	script := filepath.Join(dir, "perform.sh")
	body := `#!/bin/sh
cat > /dev/null
if [ -f "` + marker + `" ]; then
  echo '{"changes":["api/user.go"],"tests":{"ran":true,"passed":12,"failed":0,"coverage":88},"lint":{"ran":true,"errors":0}}'
else
  touch "` + marker + `"
  echo '{"changes":["api/user.go"],"tests":{"ran":true,"passed":5,"failed":3,"coverage":0}}'
fi
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func resetFlags() {
	configPath, jsonOutput = "", false
	runTask, runFiles, runDomain = "", nil, ""
	runPerformer, runPerformerArgs, runDir = "", nil, ""
	runMaxIterations, runThreshold, runNoLearning = 0, 0, false
	listDomain, listPromotedOnly, listMinQuality, listLimit = "", false, 0, 0
	searchFiles, searchDomain, searchLimit = nil, "", skills.DefaultMaxSkills
	promoteReason, showDocument = "", false
	clearChanged(rootCmd)
}

// clearChanged forgets which flags earlier executions set, so required
// flag checks see a fresh command tree.
func clearChanged(c *cobra.Command) {
	unset := func(f *pflag.Flag) { f.Changed = false }
	c.Flags().VisitAll(unset)
	c.PersistentFlags().VisitAll(unset)
	for _, sub := range c.Commands() {
		clearChanged(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunLearnsSkill(t *testing.T) {
	home := setupHome(t)
	script := performerScript(t)

	out, err := execute(t, "run",
		"--task", "add input validation to the user api",
		"--file", "api/user.go",
		"--performer", script,
		"--json",
	)
	require.NoError(t, err)

	var outcome learning.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, loop.TerminationQualityMet, outcome.Result.Termination)
	assert.Equal(t, 2, outcome.Result.TotalIterations)
	assert.Equal(t, []float64{55, 100}, outcome.Result.ScoreHistory)
	require.NotNil(t, outcome.ExtractedSkill)
	assert.Empty(t, outcome.LearningErrors)

	skillFile := filepath.Join(home, ".config", "skillloop", "skills", "learned")
	entries, err := os.ReadDir(skillFile)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	out, err = execute(t, "skills", "list", "--json")
	require.NoError(t, err)
	var list []skills.LearnedSkill
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, outcome.ExtractedSkill.SkillID, list[0].SkillID)

	out, err = execute(t, "feedback", "show", outcome.SessionID, "--json")
	require.NoError(t, err)
	var fb []skills.IterationFeedback
	require.NoError(t, json.Unmarshal([]byte(out), &fb))
	assert.Len(t, fb, 2)
}

func TestRunNoLearning(t *testing.T) {
	setupHome(t)
	script := performerScript(t)

	out, err := execute(t, "run", "--task", "tidy", "--performer", script, "--no-learning")
	require.NoError(t, err)
	assert.Contains(t, out, "Termination:  quality_met")
	assert.Contains(t, out, "Scores:       55.0 -> 100.0")
	assert.NotContains(t, out, "Extracted:")

	out, err = execute(t, "skills", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No skills learned yet.")
}

func TestRunPerformerFailure(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "run", "--task", "tidy", "--performer", "false", "--json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestRunRequiresFlags(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "run", "--task", "tidy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "performer")
}

func TestSkillsPromoteRejectsFreshSkill(t *testing.T) {
	setupHome(t)
	script := performerScript(t)

	out, err := execute(t, "run", "--task", "add validation", "--performer", script, "--json")
	require.NoError(t, err)
	var outcome learning.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	require.NotNil(t, outcome.ExtractedSkill)

	_, err = execute(t, "skills", "promote", outcome.ExtractedSkill.SkillID)
	require.Error(t, err)
	assert.ErrorIs(t, err, skills.ErrPromotionRejected)

	out, err = execute(t, "skills", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, outcome.ExtractedSkill.SkillID)
	assert.Contains(t, out, "applications")
}

func TestSkillsShowUnknown(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "skills", "show", "missing-skill")
	require.Error(t, err)
	assert.ErrorIs(t, err, skills.ErrSkillNotFound)
}

func TestSkillsStatsEmpty(t *testing.T) {
	setupHome(t)

	out, err := execute(t, "skills", "stats", "--json")
	require.NoError(t, err)
	var st skills.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Zero(t, st.TotalSkills)
}

func TestConfigFileApplies(t *testing.T) {
	home := setupHome(t)
	custom := filepath.Join(home, "custom-skills")
	writeConfig(t, home, `
skills:
  dir: `+custom+`
  feedback_dir: `+filepath.Join(home, "custom-feedback")+`
`)

	_, err := execute(t, "skills", "list")
	require.NoError(t, err)
	_, err = os.Stat(custom)
	assert.NoError(t, err)
}

func TestInvalidConfigRejected(t *testing.T) {
	home := setupHome(t)
	writeConfig(t, home, "skills:\n  backend: sqlite\n")

	_, err := execute(t, "skills", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skills.backend")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than max", input: "hello", maxLen: 10, want: "hello"},
		{name: "equal to max", input: "hello", maxLen: 5, want: "hello"},
		{name: "longer than max", input: "hello world", maxLen: 8, want: "hello..."},
		{name: "very short max", input: "hello", maxLen: 3, want: "..."},
		{name: "multibyte", input: "überprüfung", maxLen: 6, want: "übe..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}

func TestFormatScores(t *testing.T) {
	assert.Equal(t, "-", formatScores(nil))
	assert.Equal(t, "40.0 -> 72.5", formatScores([]float64{40, 72.5}))
}
