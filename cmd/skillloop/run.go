package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/learning"
	"github.com/fyrsmithlabs/skillloop/internal/loop"
)

var (
	runTask          string
	runFiles         []string
	runDomain        string
	runPerformer     string
	runPerformerArgs []string
	runDir           string
	runMaxIterations int
	runThreshold     float64
	runNoLearning    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runTask, "task", "", "task description handed to the performer (required)")
	runCmd.Flags().StringSliceVar(&runFiles, "file", nil, "file in scope for the task (repeatable)")
	runCmd.Flags().StringVar(&runDomain, "domain", "", "task domain (detected from task and files when empty)")
	runCmd.Flags().StringVar(&runPerformer, "performer", "", "command run once per iteration (required)")
	runCmd.Flags().StringArrayVar(&runPerformerArgs, "performer-arg", nil, "argument passed to the performer (repeatable)")
	runCmd.Flags().StringVar(&runDir, "dir", "", "working directory for the performer (default: current directory)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override loop.max_iterations")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0, "override loop.quality_threshold")
	runCmd.Flags().BoolVar(&runNoLearning, "no-learning", false, "skip skill injection, feedback and extraction")
	_ = runCmd.MarkFlagRequired("task")
	_ = runCmd.MarkFlagRequired("performer")
}

// runCmd runs one improvement loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an improvement loop against a performer command",
	Long: `Run an improvement loop. Each iteration writes the iteration context as
JSON to the performer's stdin and reads evidence JSON from its stdout:

  {"changes": ["api/user.go"],
   "tests": {"ran": true, "passed": 42, "failed": 0, "coverage": 81.5},
   "lint": {"ran": true, "errors": 0}}

The loop stops when the assessed score meets the threshold, when the
iteration budget runs out, or when scores stagnate or oscillate. With
learning enabled, relevant skills are injected into the first iteration and
successful sessions are extracted into new skills.

Examples:
  # Run with a script performer
  skillloop run --task "add input validation" --file api/user.go --performer ./perform.sh

  # Pass arguments to the performer and print the outcome as JSON
  skillloop run --task "fix flaky test" --performer agent --performer-arg=--model=fast --json

  # Run without touching the skill store
  skillloop run --task "tidy imports" --performer ./perform.sh --no-learning`,
	RunE: runLoop,
}

func runLoop(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if runMaxIterations > 0 {
		a.cfg.Loop.MaxIterations = runMaxIterations
	}
	if runThreshold > 0 {
		a.cfg.Loop.QualityThreshold = runThreshold
	}
	if runNoLearning {
		a.cfg.Skills.Enabled = false
	}
	if err := a.cfg.LoopConfig().Validate(); err != nil {
		return err
	}
	if err := a.connectReview(); err != nil {
		return err
	}

	outcome, err := executeLoop(ctx, a)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	} else {
		printOutcome(cmd.OutOrStdout(), outcome)
	}

	if outcome.Result.Termination == loop.TerminationError {
		return fmt.Errorf("loop %s failed: %s", outcome.Result.LoopID, outcome.Result.Err)
	}
	return nil
}

func executeLoop(ctx context.Context, a *app) (*learning.Outcome, error) {
	controller, err := a.controller()
	if err != nil {
		return nil, err
	}
	orch, err := a.orchestrator(controller)
	if err != nil {
		return nil, err
	}

	performer := loop.NewCommandPerformer(runDir, runPerformer, runPerformerArgs...)
	initial := loop.IterationContext{
		Task:   runTask,
		Files:  runFiles,
		Domain: runDomain,
	}

	a.logger.Info(ctx, "starting loop",
		zap.String("performer", runPerformer),
		zap.Int("max_iterations", controller.Config().EffectiveMaxIterations()),
		zap.Float64("threshold", controller.Config().QualityThreshold),
	)
	outcome := orch.Run(ctx, initial, performer)
	a.logger.Info(ctx, "loop finished",
		zap.String("session_id", outcome.SessionID),
		zap.String("reason", string(outcome.Result.Termination)),
		zap.Float64("final_score", outcome.Result.FinalScore()),
	)
	return outcome, nil
}

func printOutcome(w io.Writer, o *learning.Outcome) {
	r := o.Result
	fmt.Fprintf(w, "Session:      %s\n", o.SessionID)
	fmt.Fprintf(w, "Loop:         %s\n", r.LoopID)
	fmt.Fprintf(w, "Domain:       %s\n", o.Domain)
	fmt.Fprintf(w, "Termination:  %s\n", r.Termination)
	fmt.Fprintf(w, "Iterations:   %d\n", r.TotalIterations)
	fmt.Fprintf(w, "Final score:  %.1f\n", r.FinalScore())
	fmt.Fprintf(w, "Scores:       %s\n", formatScores(r.ScoreHistory))
	if r.Err != "" {
		fmt.Fprintf(w, "Error:        %s\n", r.Err)
	}
	if len(o.AppliedSkills) > 0 {
		names := make([]string, 0, len(o.AppliedSkills))
		for _, s := range o.AppliedSkills {
			names = append(names, s.Skill.Name)
		}
		fmt.Fprintf(w, "Applied:      %s\n", strings.Join(names, ", "))
	}
	if o.ExtractedSkill != nil {
		fmt.Fprintf(w, "Extracted:    %s (%s)\n", o.ExtractedSkill.Name, o.ExtractedSkill.SkillID)
	}
	if o.Promoted {
		fmt.Fprintf(w, "Promoted:     %s\n", o.PromotionPath)
	}
	for _, e := range o.LearningErrors {
		fmt.Fprintf(w, "Warning:      %s\n", e)
	}
}

func formatScores(scores []float64) string {
	if len(scores) == 0 {
		return "-"
	}
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.1f", s)
	}
	return strings.Join(parts, " -> ")
}
