package steps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// maxOutputTail bounds how much command output is quoted in an error.
const maxOutputTail = 512

// Exec runs a command. A non-zero exit is a failure. Cancelling the run
// kills the process.
type Exec struct {
	Label   string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Name implements unit.Named.
func (e *Exec) Name() string { return e.Label }

// Setup implements unit.Unit.
func (e *Exec) Setup(ctx context.Context, run unit.RunContext) error {
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", e.Command, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("%s %s failed: %w\n%s",
			e.Command, strings.Join(e.Args, " "), err, tail(output))
	}

	loggerOf(run).Debug("command finished", "command", e.Command, "output_bytes", len(output))
	return nil
}

func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}

func newExec(step *manifest.Step, _ *catalog.Registry) (unit.Template, error) {
	var opts struct {
		Command string   `mapstructure:"command"`
		Args    []string `mapstructure:"args"`
		Dir     string   `mapstructure:"dir"`
		Env     []string `mapstructure:"env"`
	}
	if err := catalog.Decode(step.With, &opts); err != nil {
		return nil, err
	}
	if opts.Command == "" {
		return nil, errors.New("command is required")
	}
	return unit.Of(step.Label(), &Exec{
		Label:   step.Label(),
		Command: opts.Command,
		Args:    opts.Args,
		Dir:     opts.Dir,
		Env:     opts.Env,
	}), nil
}
