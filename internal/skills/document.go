package skills

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DocumentFile is the name of the rendered skill document.
const DocumentFile = "SKILL.md"

type frontmatter struct {
	Name          string  `yaml:"name"`
	Description   string  `yaml:"description"`
	Learned       bool    `yaml:"learned"`
	SourceSession string  `yaml:"source_session"`
	LearnedAt     string  `yaml:"learned_at"`
	QualityScore  float64 `yaml:"quality_score"`
}

// RenderDocument renders the human-readable SKILL.md for s.
func RenderDocument(s *LearnedSkill) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil skill", ErrInvalidSkill)
	}
	learnedAt := s.LearnedAt.UTC().Format(time.RFC3339)

	fm, err := yaml.Marshal(frontmatter{
		Name:          s.Name,
		Description:   s.Description,
		Learned:       true,
		SourceSession: s.SourceSession,
		LearnedAt:     learnedAt,
		QualityScore:  s.QualityScore,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", displayTitle(s.Name))
	fmt.Fprintf(&b, "%s\n\n", s.Description)

	section(&b, "Domain", "", []string{s.Domain}, false)
	section(&b, "Triggers", "", []string{strings.Join(s.Triggers, ", ")}, false)
	section(&b, "Learned Patterns",
		"These patterns were extracted from successful executions:", s.Patterns, true)
	section(&b, "Anti-Patterns",
		"Avoid these approaches (they failed or caused issues):", s.AntiPatterns, true)
	section(&b, "Applicability Conditions", "This skill applies when:", s.ApplicabilityConditions, true)

	status := "pending"
	if s.PromotionReason != "" {
		status = s.PromotionReason
	}
	section(&b, "Provenance", "", []string{
		fmt.Sprintf("**Source Session**: `%s`", s.SourceSession),
		fmt.Sprintf("**Source Repository**: `%s`", s.SourceRepo),
		fmt.Sprintf("**Learned At**: %s", learnedAt),
		fmt.Sprintf("**Quality Score**: %.1f/100", s.QualityScore),
		fmt.Sprintf("**Iterations**: %d", s.Iterations),
		fmt.Sprintf("**Promoted**: %t (%s)", s.Promoted, status),
	}, true)

	b.WriteString("## Integration\n\n")
	b.WriteString("This is a **learned skill** automatically extracted from execution feedback.\n")
	b.WriteString("It should be reviewed periodically and may be promoted to a permanent skill\n")
	b.WriteString("after sufficient validation.\n")

	return []byte(b.String()), nil
}

func section(b *strings.Builder, title, intro string, lines []string, bullets bool) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if intro != "" {
		fmt.Fprintf(b, "%s\n\n", intro)
	}
	for _, l := range lines {
		if bullets {
			b.WriteString("- ")
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

// displayTitle turns "learned-backend-add-retry" into "Learned Backend Add Retry".
func displayTitle(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "-", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
