package loop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fyrsmithlabs/skillloop/internal/quality"
)

// Performer does the actual work of an iteration.
type Performer interface {
	Perform(ctx context.Context, ic IterationContext) (*quality.Evidence, error)
}

// PerformerFunc adapts a function to Performer.
type PerformerFunc func(ctx context.Context, ic IterationContext) (*quality.Evidence, error)

// Perform implements Performer.
func (f PerformerFunc) Perform(ctx context.Context, ic IterationContext) (*quality.Evidence, error) {
	return f(ctx, ic)
}

// CommandPerformer runs an external program per iteration. The iteration
// context is written to its stdin as JSON and evidence JSON is read from
// its stdout.
type CommandPerformer struct {
	command string
	args    []string
	dir     string
}

// NewCommandPerformer creates a performer running command with args in dir.
// An empty dir uses the current working directory.
func NewCommandPerformer(dir, command string, args ...string) *CommandPerformer {
	return &CommandPerformer{command: command, args: args, dir: dir}
}

// Perform implements Performer.
func (p *CommandPerformer) Perform(ctx context.Context, ic IterationContext) (*quality.Evidence, error) {
	input, err := json.Marshal(ic)
	if err != nil {
		return nil, fmt.Errorf("marshal iteration context: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Dir = p.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", p.command, err, strings.TrimSpace(stderr.String()))
	}

	ev, err := quality.ParseEvidence(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", p.command, err)
	}
	return ev, nil
}
