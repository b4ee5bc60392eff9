package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cascadeworks/agentcore/domain"
)

// outputCap bounds captured command output.
const outputCap = 64 * 1024

// LocalRunner executes commands on the host through the shell.
type LocalRunner struct {
	// Shell defaults to /bin/sh.
	Shell  string
	Logger *slog.Logger
}

// NewLocalRunner returns a runner using /bin/sh.
func NewLocalRunner(logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{Shell: "/bin/sh", Logger: logger}
}

// Run executes command under the timeout. Non-zero exit is not an error;
// the exit code is reported in the result. A timeout returns ToolTransient
// with the partial output preserved.
func (r *LocalRunner) Run(ctx context.Context, command, workdir string, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	buf := newCapBuffer(outputCap)
	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Dir = workdir
	cmd.Stdout = buf
	cmd.Stderr = buf
	// A killed shell can leave children holding the output pipe open;
	// don't let Wait block on them past the timeout.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := ExecResult{Output: buf.String(), Duration: time.Since(start)}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, domain.Errorf(domain.ToolTransient, "command timed out after %s", timeout)
	}
	if ctx.Err() != nil {
		return res, domain.WrapError(domain.Cancelled, ctx.Err(), "command cancelled")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, domain.WrapError(domain.ToolTransient, err, "command failed to start")
	}
	return res, nil
}
