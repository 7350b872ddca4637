package secrets

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// Finding is one detected secret. The matched value is not retained.
type Finding struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Redactor replaces detected secrets with "[MARKER:rule-id]".
type Redactor struct {
	cfg    Config
	rules  []compiledRule
	allow  []*regexp.Regexp
	logger *zap.Logger
}

// New compiles cfg into a Redactor.
func New(cfg Config, logger *zap.Logger) (*Redactor, error) {
	if cfg.Marker == "" {
		cfg.Marker = "REDACTED"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	return &Redactor{cfg: cfg, rules: rules, allow: allow, logger: logger.Named("secrets")}, nil
}

// Scan returns non-overlapping findings in text order.
func (r *Redactor) Scan(text string) []Finding {
	if !r.cfg.Enabled || text == "" {
		return nil
	}

	var found []Finding
	for _, rule := range r.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			if !r.allowed(text[loc[0]:loc[1]]) {
				found = append(found, Finding{RuleID: rule.id, Start: loc[0], End: loc[1]})
			}
		}
	}
	if r.cfg.Gitleaks {
		found = append(found, r.gitleaks(text)...)
	}
	return mergeFindings(found)
}

func (r *Redactor) gitleaks(text string) []Finding {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		r.logger.Warn("gitleaks detector unavailable", zap.Error(err))
		return nil
	}
	var out []Finding
	for _, f := range d.DetectString(text) {
		if f.Secret == "" || r.allowed(f.Secret) {
			continue
		}
		for off := 0; ; {
			i := strings.Index(text[off:], f.Secret)
			if i < 0 {
				break
			}
			start := off + i
			out = append(out, Finding{RuleID: f.RuleID, Start: start, End: start + len(f.Secret)})
			off = start + len(f.Secret)
		}
	}
	return out
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// Redact returns text with every finding replaced.
func (r *Redactor) Redact(text string) string {
	findings := r.Scan(text)
	if len(findings) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, f := range findings {
		b.WriteString(text[last:f.Start])
		fmt.Fprintf(&b, "[%s:%s]", r.cfg.Marker, f.RuleID)
		last = f.End
	}
	b.WriteString(text[last:])

	r.logger.Debug("secrets redacted", zap.Int("findings", len(findings)))
	return b.String()
}

// mergeFindings sorts by position and folds overlaps into the earliest,
// longest finding.
func mergeFindings(in []Finding) []Finding {
	if len(in) == 0 {
		return nil
	}
	slices.SortFunc(in, func(a, b Finding) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(b.End, a.End)
	})
	out := []Finding{in[0]}
	for _, f := range in[1:] {
		last := &out[len(out)-1]
		if f.Start < last.End {
			last.End = max(last.End, f.End)
			continue
		}
		out = append(out, f)
	}
	return out
}
