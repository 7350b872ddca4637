package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

var (
	listDomain       string
	listPromotedOnly bool
	listMinQuality   float64
	listLimit        int
	searchFiles      []string
	searchDomain     string
	searchLimit      int
	promoteReason    string
	showDocument     bool
)

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
	skillsCmd.AddCommand(skillsSearchCmd)
	skillsCmd.AddCommand(skillsPendingCmd)
	skillsCmd.AddCommand(skillsPromoteCmd)
	skillsCmd.AddCommand(skillsDeleteCmd)
	skillsCmd.AddCommand(skillsStatsCmd)

	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.AddCommand(feedbackShowCmd)

	skillsListCmd.Flags().StringVar(&listDomain, "domain", "", "only skills in this domain")
	skillsListCmd.Flags().BoolVar(&listPromotedOnly, "promoted", false, "only promoted skills")
	skillsListCmd.Flags().Float64Var(&listMinQuality, "min-quality", 0, "minimum quality score")
	skillsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum skills to list (0 = all)")

	skillsSearchCmd.Flags().StringSliceVar(&searchFiles, "file", nil, "file the task touches (repeatable)")
	skillsSearchCmd.Flags().StringVar(&searchDomain, "domain", "", "task domain")
	skillsSearchCmd.Flags().IntVar(&searchLimit, "limit", skills.DefaultMaxSkills, "maximum skills to return")

	skillsShowCmd.Flags().BoolVar(&showDocument, "document", false, "print the rendered skill document")
	skillsPromoteCmd.Flags().StringVar(&promoteReason, "reason", "", "promotion reason (default: the gate's reason)")
}

// skillsCmd is the parent command for learned skill management
var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and manage learned skills",
	Long: `Inspect and manage skills extracted from successful loop sessions.

Examples:
  # List every skill, highest quality first
  skillloop skills list

  # Find skills relevant to a task
  skillloop skills search "validate request input" --file api/user.go

  # Promote a proven skill
  skillloop skills promote api-validation-3f9a1c2b`,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned skills",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSkillsList),
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <skill-id>",
	Short: "Show a skill and its effectiveness",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSkillsShow),
}

var skillsSearchCmd = &cobra.Command{
	Use:   "search <task>",
	Short: "Rank skills by relevance to a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(runSkillsSearch),
}

var skillsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List skills awaiting promotion with the gate's verdict",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSkillsPending),
}

var skillsPromoteCmd = &cobra.Command{
	Use:   "promote <skill-id>",
	Short: "Promote a skill that meets the promotion criteria",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSkillsPromote),
}

var skillsDeleteCmd = &cobra.Command{
	Use:   "delete <skill-id>",
	Short: "Delete a learned skill",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSkillsDelete),
}

var skillsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate skill store statistics",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSkillsStats),
}

// feedbackCmd is the parent command for iteration feedback
var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Inspect recorded iteration feedback",
}

var feedbackShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the feedback log of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runFeedbackShow),
}

// withApp opens the app for the duration of one command.
func withApp(fn func(ctx context.Context, a *app, w io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd.OutOrStdout(), args)
	}
}

func runSkillsList(ctx context.Context, a *app, w io.Writer, _ []string) error {
	list, err := a.store.SearchSkills(ctx, skills.SearchQuery{
		Domain:       listDomain,
		PromotedOnly: listPromotedOnly,
		MinQuality:   listMinQuality,
		Limit:        listLimit,
	})
	if err != nil {
		return err
	}
	if list == nil {
		list = []*skills.LearnedSkill{}
	}
	if jsonOutput {
		return printJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No skills learned yet.")
		return nil
	}
	printSkillTable(w, list)
	return nil
}

func printSkillTable(w io.Writer, list []*skills.LearnedSkill) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tDOMAIN\tQUALITY\tPROMOTED\tLEARNED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%s\t%s\n",
			s.SkillID, truncate(s.Name, 40), s.Domain, s.QualityScore,
			yesNo(s.Promoted), s.LearnedAt.Format("2006-01-02"))
	}
	_ = tw.Flush()
}

type skillDetail struct {
	Skill         *skills.LearnedSkill  `json:"skill"`
	Effectiveness *skills.Effectiveness `json:"effectiveness"`
}

func runSkillsShow(ctx context.Context, a *app, w io.Writer, args []string) error {
	sk, err := a.store.GetSkill(ctx, args[0])
	if err != nil {
		return err
	}
	if showDocument {
		doc, err := skills.RenderDocument(sk)
		if err != nil {
			return err
		}
		_, err = w.Write(doc)
		return err
	}
	eff, err := a.store.Effectiveness(ctx, sk.SkillID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, skillDetail{Skill: sk, Effectiveness: eff})
	}

	fmt.Fprintf(w, "ID:           %s\n", sk.SkillID)
	fmt.Fprintf(w, "Name:         %s\n", sk.Name)
	fmt.Fprintf(w, "Domain:       %s\n", sk.Domain)
	fmt.Fprintf(w, "Quality:      %.1f (%d iterations)\n", sk.QualityScore, sk.Iterations)
	fmt.Fprintf(w, "Session:      %s\n", sk.SourceSession)
	fmt.Fprintf(w, "Learned:      %s\n", sk.LearnedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Promoted:     %s\n", yesNo(sk.Promoted))
	if sk.PromotionReason != "" {
		fmt.Fprintf(w, "Reason:       %s\n", sk.PromotionReason)
	}
	fmt.Fprintf(w, "Triggers:     %s\n", strings.Join(sk.Triggers, ", "))
	fmt.Fprintf(w, "Applications: %d (%d helpful, success rate %.0f%%)\n",
		eff.Applications, eff.HelpfulCount, eff.SuccessRate*100)
	printList(w, "Patterns", sk.Patterns)
	printList(w, "Anti-patterns", sk.AntiPatterns)
	printList(w, "Applies when", sk.ApplicabilityConditions)
	return nil
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func runSkillsSearch(ctx context.Context, a *app, w io.Writer, args []string) error {
	hits, err := skills.NewRetriever(a.store).Retrieve(ctx, skills.RetrieveRequest{
		Task:       strings.Join(args, " "),
		Files:      searchFiles,
		Domain:     searchDomain,
		MaxSkills:  searchLimit,
		MinQuality: a.cfg.Skills.MinQuality,
	})
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []skills.ScoredSkill{}
	}
	if jsonOutput {
		return printJSON(w, hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(w, "No relevant skills found.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tRELEVANCE\tQUALITY\tMATCHED")
	for _, h := range hits {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.1f\t%s\n",
			h.Skill.SkillID, truncate(h.Skill.Name, 40), h.Score, h.Skill.QualityScore,
			strings.Join(h.MatchedTerms, ","))
	}
	return tw.Flush()
}

type pendingEntry struct {
	Skill    *skills.LearnedSkill `json:"skill"`
	Decision skills.Decision      `json:"decision"`
}

func runSkillsPending(ctx context.Context, a *app, w io.Writer, _ []string) error {
	pending, err := a.gate.ListPending(ctx)
	if err != nil {
		return err
	}
	entries := make([]pendingEntry, 0, len(pending))
	for _, sk := range pending {
		d, err := a.gate.Evaluate(ctx, sk)
		if err != nil {
			return err
		}
		entries = append(entries, pendingEntry{Skill: sk, Decision: d})
	}
	if jsonOutput {
		return printJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No skills awaiting promotion.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tQUALITY\tREADY\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\t%s\n",
			e.Skill.SkillID, truncate(e.Skill.Name, 30), e.Skill.QualityScore,
			yesNo(e.Decision.ShouldPromote), e.Decision.Reason)
	}
	return tw.Flush()
}

type promoteResult struct {
	SkillID  string          `json:"skill_id"`
	Promoted bool            `json:"promoted"`
	Reason   string          `json:"reason"`
	Path     string          `json:"path,omitempty"`
	Decision skills.Decision `json:"decision"`
}

func runSkillsPromote(ctx context.Context, a *app, w io.Writer, args []string) error {
	sk, err := a.store.GetSkill(ctx, args[0])
	if err != nil {
		return err
	}
	if sk.Promoted {
		fmt.Fprintf(w, "%s is already promoted: %s\n", sk.SkillID, sk.PromotionReason)
		return nil
	}

	d, err := a.gate.Evaluate(ctx, sk)
	if err != nil {
		return err
	}
	res := promoteResult{SkillID: sk.SkillID, Reason: d.Reason, Decision: d}
	if d.ShouldPromote {
		reason := promoteReason
		if reason == "" {
			reason = d.Reason
		}
		res.Path, err = a.gate.Promote(ctx, sk, reason)
		if err != nil {
			return err
		}
		res.Promoted = true
		res.Reason = sk.PromotionReason
	}

	if jsonOutput {
		if err := printJSON(w, res); err != nil {
			return err
		}
	} else if res.Promoted {
		fmt.Fprintf(w, "Promoted %s\n", sk.SkillID)
		if res.Path != "" {
			fmt.Fprintf(w, "Document: %s\n", res.Path)
		}
	}
	if !res.Promoted {
		return fmt.Errorf("%w: %s", skills.ErrPromotionRejected, d.Reason)
	}
	return nil
}

func runSkillsDelete(ctx context.Context, a *app, w io.Writer, args []string) error {
	if err := a.store.DeleteSkill(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted %s\n", args[0])
	return nil
}

func runSkillsStats(ctx context.Context, a *app, w io.Writer, _ []string) error {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, st)
	}
	fmt.Fprintf(w, "Skills:        %d (%d promoted)\n", st.TotalSkills, st.PromotedSkills)
	fmt.Fprintf(w, "Avg quality:   %.1f\n", st.AvgQuality)
	fmt.Fprintf(w, "Feedback:      %d records\n", st.FeedbackRecords)
	fmt.Fprintf(w, "Applications:  %d (%d helpful)\n", st.Applications, st.HelpfulApplications)
	fmt.Fprintf(w, "Success rate:  %.0f%%\n", st.SuccessRate*100)
	return nil
}

func runFeedbackShow(ctx context.Context, a *app, w io.Writer, args []string) error {
	fb, err := a.store.SessionFeedback(ctx, args[0])
	if err != nil {
		return err
	}
	if fb == nil {
		fb = []skills.IterationFeedback{}
	}
	if jsonOutput {
		return printJSON(w, fb)
	}
	if len(fb) == 0 {
		return errors.New("no feedback recorded for session " + args[0])
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ITER\tBEFORE\tAFTER\tSUCCESS\tFILES\tNEEDED")
	for _, f := range fb {
		fmt.Fprintf(tw, "%d\t%.1f\t%.1f\t%s\t%d\t%s\n",
			f.Iteration, f.QualityBefore, f.QualityAfter, yesNo(f.Success),
			len(f.ChangedFiles), truncate(strings.Join(f.ImprovementsNeeded, "; "), 60))
	}
	return tw.Flush()
}
