// Package secrets scrubs credentials out of text before it is persisted.
//
// Learned skills are written to disk and shared across sessions, so every
// improvement string that ends up in a pattern, anti-pattern or trigger runs
// through a Redactor first. Detection combines the gitleaks default rule set
// with a few fast regex rules for tokens that commonly appear in reviewer
// feedback.
package secrets
