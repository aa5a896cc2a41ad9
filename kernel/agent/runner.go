package agent

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

// Runner executes a host command. A command that ran and exited non-zero returns its exit code
// with a nil error; the error is reserved for commands that could not be run at all.
type Runner interface {
	Run(ctx context.Context, argv []string) (output string, exitCode int, err error)
}

type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, argv []string) (string, int, error) {
	if len(argv) == 0 {
		return "", -1, errors.New("empty command")
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err == nil {
		return string(out), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return string(out), exitErr.ExitCode(), nil
	}
	return string(out), -1, errors.Wrapf(err, "unable to run '%s'", argv[0])
}
