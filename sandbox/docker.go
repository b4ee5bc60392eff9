package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/cascadeworks/agentcore/domain"
)

// DockerRunner executes commands inside an already-running container so the
// agent's shell access is isolated from the host.
type DockerRunner struct {
	cli         *client.Client
	containerID string
	user        string
	logger      *slog.Logger
}

// NewDockerRunner connects to the local Docker daemon. containerID must name
// a running container; user may be empty for the container default.
func NewDockerRunner(containerID, user string, logger *slog.Logger) (*DockerRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{cli: cli, containerID: containerID, user: user, logger: logger}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// Run execs the command in the container and waits for completion.
func (r *DockerRunner) Run(ctx context.Context, command, workdir string, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"/bin/sh", "-c", command},
		User:         r.user,
		WorkingDir:   workdir,
	}

	start := time.Now()
	resp, err := r.cli.ContainerExecCreate(runCtx, r.containerID, execConfig)
	if err != nil {
		return ExecResult{}, domain.WrapError(domain.ToolTransient, err, "create exec in container %s", r.containerID)
	}

	attach, err := r.cli.ContainerExecAttach(runCtx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, domain.WrapError(domain.ToolTransient, err, "attach exec %s", resp.ID)
	}
	defer attach.Close()

	buf := newCapBuffer(outputCap)
	// Non-TTY exec output is multiplexed; fold both streams into one buffer.
	_, copyErr := stdcopy.StdCopy(buf, buf, attach.Reader)

	res := ExecResult{Output: buf.String(), Duration: time.Since(start)}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, domain.Errorf(domain.ToolTransient, "command timed out after %s", timeout)
	}
	if ctx.Err() != nil {
		return res, domain.WrapError(domain.Cancelled, ctx.Err(), "command cancelled")
	}
	if copyErr != nil {
		return res, domain.WrapError(domain.ToolTransient, copyErr, "read exec output")
	}

	inspect, err := r.cli.ContainerExecInspect(runCtx, resp.ID)
	if err != nil {
		return res, domain.WrapError(domain.ToolTransient, err, "inspect exec %s", resp.ID)
	}
	res.ExitCode = inspect.ExitCode
	return res, nil
}
