package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/cascadeworks/agentcore/domain"
)

// ExecutorConfig tunes the retry loop.
type ExecutorConfig struct {
	MaxRetries   int           // attempts per invocation
	BaseDelay    time.Duration // sleep between attempts is BaseDelay × attempt
	PostValidate bool
	Timeout      time.Duration // per-attempt handler budget
}

// DefaultExecutorConfig mirrors the engine defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		PostValidate: true,
		Timeout:      30 * time.Second,
	}
}

// Executor validates, dispatches, retries, and reports tool invocations.
type Executor struct {
	reg    *Registry
	cfg    ExecutorConfig
	logger *slog.Logger
}

// NewExecutor builds an executor over the registry.
func NewExecutor(reg *Registry, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Executor{reg: reg, cfg: cfg, logger: logger}
}

// Invoke runs one logical tool invocation: lookup, validation, retrying
// execution, optional post-validation. The returned invocation always has a
// final status; errors never escape as Go errors.
func (e *Executor) Invoke(ctx context.Context, correlationID, name string, params map[string]any, mode domain.Mode) domain.ToolInvocation {
	inv := domain.ToolInvocation{
		CorrelationID: correlationID,
		Tool:          name,
		Params:        params,
	}

	spec, ok := e.reg.Lookup(name)
	if !ok {
		return rejected(inv, domain.UnknownTool, "unknown tool %q", name)
	}
	if err := e.reg.Validate(name, params); err != nil {
		return rejected(inv, domain.InvalidToolParams, "%v", err)
	}
	if mode == domain.ModePlan && spec.Mutating {
		return rejected(inv, domain.PermissionDenied, "tool %s is not allowed in PLAN mode", name)
	}
	if spec.PlanOnly && mode != domain.ModePlan {
		return rejected(inv, domain.PermissionDenied, "tool %s is only allowed in PLAN mode", name)
	}

	var result string
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		}
		result, lastErr = spec.Handler(attemptCtx, params)
		if cancel != nil {
			cancel()
		}

		record := domain.Attempt{Number: attempt, At: time.Now()}
		if lastErr != nil {
			record.Err = lastErr.Error()
			record.ErrKind = domain.KindOf(lastErr)
		}
		inv.Attempts = append(inv.Attempts, record)

		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			lastErr = domain.WrapError(domain.Cancelled, ctx.Err(), "invocation cancelled")
			break
		}
		if !e.retryable(spec, lastErr) {
			break
		}
		// Non-idempotent tools retry only on errors that provably occurred
		// before any side effect; a timeout is ambiguous.
		if !spec.Idempotent && domain.IsKind(lastErr, domain.ToolTransient) {
			break
		}
		if attempt < e.cfg.MaxRetries {
			e.logger.Debug("retrying tool", "tool", name, "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, e.cfg.BaseDelay*time.Duration(attempt)); err != nil {
				lastErr = domain.WrapError(domain.Cancelled, err, "invocation cancelled")
				break
			}
		}
	}

	if lastErr != nil {
		inv.Status = domain.InvocationFailed
		inv.ErrKind = domain.KindOf(lastErr)
		if inv.ErrKind == "" {
			inv.ErrKind = domain.ToolTransient
		}
		inv.ErrMessage = lastErr.Error()
		return inv
	}

	if e.cfg.PostValidate && spec.PostCheck != nil {
		if err := spec.PostCheck(ctx, params, result); err != nil {
			inv.Status = domain.InvocationFailed
			inv.ErrKind = domain.PostconditionFailed
			inv.ErrMessage = err.Error()
			return inv
		}
	}

	inv.Status = domain.InvocationSucceeded
	inv.Result = result
	return inv
}

// retryable decides whether the loop continues after err.
func (e *Executor) retryable(spec *Spec, err error) bool {
	kind := domain.KindOf(err)
	for _, k := range spec.NonRetryable {
		if kind == k {
			return false
		}
	}
	if kind == "" {
		// Unclassified handler errors are assumed transient.
		return true
	}
	return kind.Retryable()
}

func rejected(inv domain.ToolInvocation, kind domain.ErrorKind, format string, args ...any) domain.ToolInvocation {
	err := domain.Errorf(kind, format, args...)
	inv.Status = domain.InvocationRejected
	inv.ErrKind = kind
	inv.ErrMessage = err.Error()
	return inv
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
