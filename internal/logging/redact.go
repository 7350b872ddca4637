package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redactedMark = "[REDACTED]"

// scrubRules decide which console fields are masked. A key matches when it
// contains any configured name, so "github_token" and "nats_password" are
// caught by "token" and "password". Value patterns mask only the matched
// span, leaving surrounding context such as performer stderr readable.
type scrubRules struct {
	names    []string
	patterns []*regexp.Regexp
}

func compileScrubRules(cfg RedactionConfig) (*scrubRules, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rules := &scrubRules{names: make([]string, 0, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			rules.names = append(rules.names, f)
		}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxRedactionPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxRedactionPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		rules.patterns = append(rules.patterns, re)
	}
	return rules, nil
}

func (r *scrubRules) sensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, n := range r.names {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}

func (r *scrubRules) scrubValue(val string) string {
	for _, re := range r.patterns {
		val = re.ReplaceAllString(val, redactedMark)
	}
	return val
}

// scrubEncoder applies scrubRules to the fields an encoder receives.
// Numeric and boolean fields pass through unchanged.
type scrubEncoder struct {
	zapcore.Encoder
	rules *scrubRules
}

// newScrubEncoder returns base unchanged when redaction is disabled.
func newScrubEncoder(base zapcore.Encoder, cfg RedactionConfig) (zapcore.Encoder, error) {
	rules, err := compileScrubRules(cfg)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		return base, nil
	}
	return &scrubEncoder{Encoder: base, rules: rules}, nil
}

func (e *scrubEncoder) AddString(key, val string) {
	if e.rules.sensitiveKey(key) {
		val = redactedMark
	} else {
		val = e.rules.scrubValue(val)
	}
	e.Encoder.AddString(key, val)
}

func (e *scrubEncoder) AddByteString(key string, val []byte) {
	e.AddString(key, string(val))
}

func (e *scrubEncoder) AddBinary(key string, val []byte) {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedMark)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *scrubEncoder) AddReflected(key string, val any) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedMark)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *scrubEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedMark)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *scrubEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedMark)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *scrubEncoder) Clone() zapcore.Encoder {
	return &scrubEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}

// EncodeEntry routes per-entry fields through the Add methods above and
// scrubs the message itself, since performer output often lands there.
func (e *scrubEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	enc := e.Clone().(*scrubEncoder)
	for i := range fields {
		fields[i].AddTo(enc)
	}
	ent.Message = e.rules.scrubValue(ent.Message)
	return enc.Encoder.EncodeEntry(ent, nil)
}
