package quality

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TestResults summarizes a test run reported by the work performer.
type TestResults struct {
	Ran      bool    `json:"ran"`
	Passed   int     `json:"passed" validate:"gte=0"`
	Failed   int     `json:"failed" validate:"gte=0"`
	Coverage float64 `json:"coverage" validate:"gte=0,lte=100"`
}

// Total returns the number of tests executed.
func (t *TestResults) Total() int {
	if t == nil {
		return 0
	}
	return t.Passed + t.Failed
}

// PassRate returns the fraction of passing tests, or 0 when none ran.
func (t *TestResults) PassRate() float64 {
	total := t.Total()
	if total == 0 {
		return 0
	}
	return float64(t.Passed) / float64(total)
}

// LintResults summarizes a lint run.
type LintResults struct {
	Ran    bool `json:"ran"`
	Errors int  `json:"errors" validate:"gte=0"`
}

// Evidence is what one iteration of work produced.
//
// Changes lists modified paths as reported by the performer. ChangedFiles
// is the explicit changed-file set; when empty, Changes stands in for it.
type Evidence struct {
	Changes      []string     `json:"changes,omitempty" validate:"dive,required"`
	Tests        *TestResults `json:"tests,omitempty"`
	Lint         *LintResults `json:"lint,omitempty"`
	ChangedFiles []string     `json:"changed_files,omitempty" validate:"dive,required"`
}

// ParseEvidence decodes and validates performer output.
func ParseEvidence(data []byte) (*Evidence, error) {
	var ev Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks counts and paths are well formed.
func (e *Evidence) Validate() error {
	if e == nil {
		return nil
	}
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
	}
	return nil
}

// Files returns the changed-file paths for this evidence.
func (e *Evidence) Files() []string {
	if e == nil {
		return nil
	}
	if len(e.ChangedFiles) > 0 {
		return e.ChangedFiles
	}
	return e.Changes
}

func (e *Evidence) testsRan() bool {
	return e != nil && e.Tests != nil && e.Tests.Ran
}

func (e *Evidence) lintRan() bool {
	return e != nil && e.Lint != nil && e.Lint.Ran
}
