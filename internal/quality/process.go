package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultScorerTimeout bounds one external scorer invocation.
const DefaultScorerTimeout = 30 * time.Second

// ProcessScorer delegates scoring to an external executable. The evidence is
// passed as a single JSON argument and the process prints its verdict as JSON
// on stdout.
type ProcessScorer struct {
	command string
	args    []string
	timeout time.Duration
}

// NewProcessScorer creates a scorer running command with args. A zero
// timeout uses DefaultScorerTimeout.
func NewProcessScorer(command string, args []string, timeout time.Duration) *ProcessScorer {
	if timeout <= 0 {
		timeout = DefaultScorerTimeout
	}
	return &ProcessScorer{command: command, args: args, timeout: timeout}
}

type scorerRequest struct {
	Command          string       `json:"command"`
	RequiresEvidence bool         `json:"requires_evidence"`
	Changes          []string     `json:"changes"`
	Tests            *TestResults `json:"tests"`
	Lint             *LintResults `json:"lint"`
}

type scorerResponse struct {
	Passed  bool               `json:"passed"`
	Score   *float64           `json:"score"`
	Status  string             `json:"status"`
	Missing []string           `json:"missing"`
	Summary map[string]any     `json:"evidence_summary"`
}

// Score implements Scorer. Errors wrap ErrScorerUnavailable, ErrScorerTimeout
// or ErrScorerOutput.
func (p *ProcessScorer) Score(ctx context.Context, ev *Evidence, threshold float64) (*Assessment, error) {
	path, err := exec.LookPath(p.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}

	req := scorerRequest{Command: "implement", RequiresEvidence: true, Changes: ev.Files()}
	if ev != nil {
		req.Tests = ev.Tests
		req.Lint = ev.Lint
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding evidence: %v", ErrScorerOutput, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string(nil), p.args...), string(payload))
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrScorerTimeout, p.timeout)
	}
	if stdout.Len() == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrScorerOutput, msg)
	}

	var resp scorerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorerOutput, err)
	}
	if resp.Score == nil {
		return nil, fmt.Errorf("%w: missing score", ErrScorerOutput)
	}

	score := clampScore(*resp.Score)
	metrics, details := splitSummary(resp.Summary)
	meta := map[string]any{
		"status":          resp.Status,
		"reported_passed": resp.Passed,
		"scorer":          p.command,
	}
	if len(details) > 0 {
		meta["evidence_summary"] = details
	}
	return &Assessment{
		OverallScore:       score,
		Passed:             score >= threshold,
		Threshold:          threshold,
		ImprovementsNeeded: resp.Missing,
		Metrics:            metrics,
		Band:               BandFor(score),
		Metadata:           meta,
	}, nil
}

// splitSummary keeps numeric evidence_summary entries as metrics and returns
// everything else (flags, statuses, nested objects) separately.
func splitSummary(summary map[string]any) (map[string]float64, map[string]any) {
	metrics := map[string]float64{}
	var details map[string]any
	for k, v := range summary {
		if n, ok := v.(float64); ok {
			metrics[k] = n
			continue
		}
		if details == nil {
			details = map[string]any{}
		}
		details[k] = v
	}
	return metrics, details
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > maxScore:
		return maxScore
	default:
		return s
	}
}
