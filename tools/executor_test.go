package tools

import (
	"context"
	"testing"
	"time"

	"github.com/cascadeworks/agentcore/domain"
)

func testConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
		PostValidate: true,
		Timeout:      time.Second,
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "nope", nil, domain.ModeAct)
	if inv.Status != domain.InvocationRejected {
		t.Errorf("expected rejection, got %s", inv.Status)
	}
	if inv.ErrKind != domain.UnknownTool {
		t.Errorf("expected UnknownTool, got %s", inv.ErrKind)
	}
}

func TestInvokeInvalidParams(t *testing.T) {
	reg, err := NewRegistry(&Spec{
		Name:   "echo",
		Schema: stringSchema([]string{"text"}),
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return params["text"].(string), nil
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "echo", map[string]any{}, domain.ModeAct)
	if inv.Status != domain.InvocationRejected || inv.ErrKind != domain.InvalidToolParams {
		t.Errorf("expected InvalidToolParams rejection, got %s/%s", inv.Status, inv.ErrKind)
	}
}

func TestSchemaWithNoRequiredParamsCompiles(t *testing.T) {
	reg, err := NewRegistry(&Spec{
		Name:   "ping",
		Schema: stringSchema(nil),
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return "pong", nil
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := reg.Validate("ping", map[string]any{}); err != nil {
		t.Errorf("empty params should validate: %v", err)
	}
}

func TestInvokeRetriesTransient(t *testing.T) {
	calls := 0
	reg, err := NewRegistry(&Spec{
		Name:       "flaky",
		Schema:     stringSchema(nil),
		Idempotent: true,
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			calls++
			if calls < 3 {
				return "", domain.Errorf(domain.ToolTransient, "try again")
			}
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "flaky", map[string]any{}, domain.ModeAct)
	if inv.Status != domain.InvocationSucceeded {
		t.Fatalf("expected success, got %s: %s", inv.Status, inv.ErrMessage)
	}
	if inv.Result != "ok" {
		t.Errorf("unexpected result %q", inv.Result)
	}
	if len(inv.Attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(inv.Attempts))
	}
}

func TestInvokeNonRetryableBreaksImmediately(t *testing.T) {
	calls := 0
	reg, err := NewRegistry(&Spec{
		Name:         "strict",
		Schema:       stringSchema(nil),
		Idempotent:   true,
		NonRetryable: []domain.ErrorKind{domain.FileNotFound},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			calls++
			return "", domain.Errorf(domain.FileNotFound, "no such file")
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "strict", map[string]any{}, domain.ModeAct)
	if inv.Status != domain.InvocationFailed || inv.ErrKind != domain.FileNotFound {
		t.Errorf("expected FileNotFound failure, got %s/%s", inv.Status, inv.ErrKind)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestInvokeNonIdempotentAmbiguousFailure(t *testing.T) {
	calls := 0
	reg, err := NewRegistry(&Spec{
		Name:   "mutator",
		Schema: stringSchema(nil),
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			calls++
			return "", domain.Errorf(domain.ToolTransient, "timed out mid-write")
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "mutator", map[string]any{}, domain.ModeAct)
	if inv.Status != domain.InvocationFailed {
		t.Fatalf("expected failure, got %s", inv.Status)
	}
	// A timeout is ambiguous for a non-idempotent tool: no retry.
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestInvokePlanModeRejectsMutating(t *testing.T) {
	reg, err := NewRegistry(&Spec{
		Name:     "writer",
		Schema:   stringSchema(nil),
		Mutating: true,
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			t.Fatal("handler must not run in PLAN mode")
			return "", nil
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "writer", map[string]any{}, domain.ModePlan)
	if inv.Status != domain.InvocationRejected || inv.ErrKind != domain.PermissionDenied {
		t.Errorf("expected PermissionDenied rejection, got %s/%s", inv.Status, inv.ErrKind)
	}
}

func TestInvokePlanOnlyOutsidePlan(t *testing.T) {
	reg, err := NewRegistry(&Spec{
		Name:     "planner",
		Schema:   stringSchema(nil),
		PlanOnly: true,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "planner", map[string]any{}, domain.ModeAct)
	if inv.ErrKind != domain.PermissionDenied {
		t.Errorf("expected PermissionDenied, got %s", inv.ErrKind)
	}
}

func TestInvokePostconditionFailed(t *testing.T) {
	reg, err := NewRegistry(&Spec{
		Name:   "writer",
		Schema: stringSchema(nil),
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return "wrote", nil
		},
		PostCheck: func(ctx context.Context, params map[string]any, result string) error {
			return domain.Errorf(domain.PostconditionFailed, "bytes differ")
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := NewExecutor(reg, testConfig(), nil)

	inv := exec.Invoke(context.Background(), "c1", "writer", map[string]any{}, domain.ModeAct)
	if inv.Status != domain.InvocationFailed || inv.ErrKind != domain.PostconditionFailed {
		t.Errorf("expected PostconditionFailed, got %s/%s", inv.Status, inv.ErrKind)
	}
}

func TestRegistryValidateExtraParam(t *testing.T) {
	reg, err := NewRegistry(&Spec{
		Name:   "echo",
		Schema: stringSchema([]string{"text"}),
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	err = reg.Validate("echo", map[string]any{"text": "hi", "bogus": "x"})
	if !domain.IsKind(err, domain.InvalidToolParams) {
		t.Errorf("expected InvalidToolParams for extra parameter, got %v", err)
	}
}
