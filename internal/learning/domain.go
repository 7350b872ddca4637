package learning

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/skillloop/internal/skills"
)

type domainKeywords struct {
	domain   string
	keywords []string
}

// Checked in order; the first domain with a matching keyword wins.
var keywordDomains = []domainKeywords{
	{"backend", []string{"api", "server", "database", "endpoint", "rest", "graphql"}},
	{"frontend", []string{"ui", "component", "react", "vue", "css", "html", "form"}},
	{"infrastructure", []string{"deploy", "docker", "kubernetes", "ci", "cd", "terraform"}},
	{"testing", []string{"test", "spec", "coverage", "mock", "fixture"}},
	{"security", []string{"auth", "security", "encrypt", "permission", "access"}},
	{"data", []string{"data", "pipeline", "etl", "analytics", "ml", "model"}},
}

var extensionDomains = map[string]string{
	"py":   "backend",
	"go":   "backend",
	"rs":   "backend",
	"ts":   "frontend",
	"tsx":  "frontend",
	"jsx":  "frontend",
	"tf":   "infrastructure",
	"yaml": "infrastructure",
	"sql":  "data",
}

// DetectDomain classifies a task by whole-word keywords in its text, then
// by the extension of the first file with a known one.
func DetectDomain(task string, files []string) string {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(task), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}
	for _, kd := range keywordDomains {
		for _, kw := range kd.keywords {
			if _, ok := words[kw]; ok {
				return kd.domain
			}
		}
	}

	for _, f := range files {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f)), ".")
		if d, ok := extensionDomains[ext]; ok {
			return d
		}
	}
	return skills.DefaultDomain
}
