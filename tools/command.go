package tools

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/volary-ai/analyzer-agent/errors"
)

// commandResult is the outcome of a command that ran to completion.
// A non-zero exit code is not an error.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// errCommandTimeout is returned when a command exceeds its timeout.
var errCommandTimeout = errors.Sentinel("command timed out")

// runCommand runs name with args in dir, bounded by timeout.
func runCommand(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (commandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() == context.DeadlineExceeded {
		return res, errCommandTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "failed to run %s", name)
	}
	return res, nil
}
