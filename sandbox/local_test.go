package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cascadeworks/agentcore/domain"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewLocalRunner(nil)
	res, err := r.Run(context.Background(), "echo hello; echo oops >&2", t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "hello") || !strings.Contains(res.Output, "oops") {
		t.Errorf("stdout/stderr not interleaved: %q", res.Output)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	r := NewLocalRunner(nil)
	res, err := r.Run(context.Background(), "exit 3", t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestRunTimeoutPreservesPartialOutput(t *testing.T) {
	r := NewLocalRunner(nil)
	res, err := r.Run(context.Background(), "echo before; sleep 5", t.TempDir(), 200*time.Millisecond)
	if !domain.IsKind(err, domain.ToolTransient) {
		t.Fatalf("expected ToolTransient, got %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut not set")
	}
	if !strings.Contains(res.Output, "before") {
		t.Errorf("partial output lost: %q", res.Output)
	}
}

func TestRunCancellation(t *testing.T) {
	r := NewLocalRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, "sleep 5", t.TempDir(), 10*time.Second)
	if !domain.IsKind(err, domain.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestRunRespectsWorkdir(t *testing.T) {
	dir := t.TempDir()
	r := NewLocalRunner(nil)
	res, err := r.Run(context.Background(), "pwd", dir, 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Output, dir) {
		t.Errorf("expected %q in %q", dir, res.Output)
	}
}

func TestCapBufferKeepsNewestBytes(t *testing.T) {
	buf := newCapBuffer(8)
	if _, err := buf.Write([]byte("0123456789ab")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "456789ab" {
		t.Errorf("expected last 8 bytes in order, got %q", got)
	}
}

func TestCapBufferPartialFill(t *testing.T) {
	buf := newCapBuffer(8)
	if _, err := buf.Write([]byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "abc" {
		t.Errorf("got %q", got)
	}
}
