package secrets

import (
	"fmt"
	"regexp"
)

// Config configures a Redactor.
type Config struct {
	// Enabled turns redaction on. Disabled redactors return text unchanged.
	Enabled bool `koanf:"enabled"`

	// Gitleaks adds the gitleaks default detector to the regex rules.
	Gitleaks bool `koanf:"gitleaks"`

	// Marker prefixes each replacement; the rule id is appended.
	Marker string `koanf:"marker"`

	// AllowList holds patterns whose matches are never redacted.
	AllowList []string `koanf:"allow_list"`

	// Rules replaces DefaultRules when non-empty.
	Rules []Rule `koanf:"rules"`
}

// Rule is one regex detector.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`
}

// DefaultConfig enables redaction with gitleaks and the default rules.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Gitleaks: true,
		Marker:   "REDACTED",
	}
}

type compiledRule struct {
	id string
	re *regexp.Regexp
}

func (c Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := c.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{id: r.ID, re: re})
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return compiled, allow, nil
}

// DefaultRules covers tokens gitleaks may miss in short free-text snippets.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `\b(?:AKIA|ASIA|AGPA|AROA)[A-Z0-9]{16}\b`},
		{ID: "github-token", Pattern: `\bgh[pousr]_[A-Za-z0-9]{36,255}\b`},
		{ID: "anthropic-api-key", Pattern: `\bsk-ant-[A-Za-z0-9_\-]{20,}`},
		{ID: "openai-api-key", Pattern: `\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`},
		{ID: "slack-token", Pattern: `\bxox[abprs]-[A-Za-z0-9-]{10,}`},
		{ID: "bearer-token", Pattern: `(?i)\bbearer\s+[A-Za-z0-9._\-+/=]{20,}`},
		{ID: "private-key", Pattern: `-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----[\s\S]*?-----END (?:[A-Z]+ )?PRIVATE KEY-----`},
		{ID: "credential-assignment", Pattern: `(?i)\b(?:password|passwd|secret|api[_-]?key|token)\s*[:=]\s*['"]?[^\s'"]{8,}`},
		{ID: "database-url", Pattern: `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^:\s/]+:[^@\s]+@\S+`},
	}
}
