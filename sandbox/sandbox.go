// Package sandbox runs shell commands for the execute_command tool, either
// on the host or inside a Docker container.
package sandbox

import (
	"context"
	"time"
)

// ExecResult holds the outcome of one command execution.
type ExecResult struct {
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Runner executes a command in a working directory with a timeout. A timeout
// still returns the partial output captured so far, with TimedOut set.
type Runner interface {
	Run(ctx context.Context, command, workdir string, timeout time.Duration) (ExecResult, error)
}
