package review

import (
	"encoding/json"
	"fmt"
)

// Severity ranks a reviewer finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is one reviewer observation.
type Finding struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
}

// Result is a reviewer's answer to a Signal. Raw keeps the payload exactly as
// received so callers can trace what the reviewer said.
type Result struct {
	SignalID    string          `json:"signal_id,omitempty"`
	IssuesFound []Finding       `json:"issues_found"`
	Raw         json.RawMessage `json:"-"`
}

// ParseResult decodes a reviewer payload, retaining it verbatim.
func ParseResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	r.Raw = append(json.RawMessage(nil), data...)
	return &r, nil
}

// Payload returns the verbatim reviewer payload, encoding the result when it
// was built in-process.
func (r *Result) Payload() json.RawMessage {
	if r == nil {
		return nil
	}
	if len(r.Raw) > 0 {
		return r.Raw
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}
