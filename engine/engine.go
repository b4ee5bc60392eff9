// Package engine drives one turn: assemble a prompt, consume the LLM
// stream, detect in-band tool calls and completion markers, dispatch tools,
// and iterate until the turn reaches a terminal state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeworks/agentcore/config"
	"github.com/cascadeworks/agentcore/domain"
	"github.com/cascadeworks/agentcore/llm"
	"github.com/cascadeworks/agentcore/prompt"
	"github.com/cascadeworks/agentcore/session"
	"github.com/cascadeworks/agentcore/tools"
)

// Config tunes the turn loop.
type Config struct {
	MaxIterations      int
	StreamBudget       time.Duration
	LLMMaxRetries      int
	MalformedRetries   int
	ValidateCheckpoint int
	ToolOutputLimit    int
	ToolLineLimit      int
	// ChunkCoalesce batches streamed tokens into AssistantChunk events of
	// roughly this many characters.
	ChunkCoalesce int
	Model         llm.Params
}

// FromConfig extracts the engine's slice of the process configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		MaxIterations:      c.MaxIterations,
		StreamBudget:       c.StreamBudget,
		LLMMaxRetries:      c.LLMMaxRetries,
		MalformedRetries:   c.MalformedRetries,
		ValidateCheckpoint: c.ValidateCheckpoint,
		ToolOutputLimit:    c.ToolOutputLimit,
		ToolLineLimit:      c.ToolLineLimit,
		Model:              llm.Params{Model: c.Model},
	}
}

// Engine implements session.Runner.
type Engine struct {
	cfg       Config
	streamer  llm.Streamer
	assembler prompt.Assembler
	registry  *tools.Registry
	executor  *tools.Executor
	backoff   llm.Policy
	validator Validator
	logger    *slog.Logger
}

// New builds an engine. validator may be nil to disable incremental
// validation regardless of session settings.
func New(cfg Config, streamer llm.Streamer, assembler prompt.Assembler, reg *tools.Registry, exec *tools.Executor, validator Validator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.ChunkCoalesce <= 0 {
		cfg.ChunkCoalesce = 64
	}
	if cfg.ValidateCheckpoint <= 0 {
		cfg.ValidateCheckpoint = 512
	}
	if cfg.LLMMaxRetries <= 0 {
		cfg.LLMMaxRetries = 3
	}
	return &Engine{
		cfg:       cfg,
		streamer:  streamer,
		assembler: assembler,
		registry:  reg,
		executor:  exec,
		backoff:   llm.DefaultPolicy(),
		validator: validator,
		logger:    logger,
	}
}

// Run executes the turn to a terminal state. ctx carries the turn budget;
// its cancellation is observed at every chunk and iteration boundary.
func (e *Engine) Run(ctx context.Context, sess *domain.Session, turn *domain.Turn, sink session.Sink) {
	log := e.logger.With("session_id", sess.ID, "turn_id", turn.ID)
	log.Info("turn started", "mode", sess.Mode, "iteration_budget", e.cfg.MaxIterations)

	// Sessions bound to their own working tree override the catalogue's
	// default workspace for every invocation of this turn.
	if ws := sink.Workspace(); ws != nil {
		ctx = tools.WithWorkspace(ctx, ws)
	}

	history := append([]domain.ConversationEntry(nil), sess.History...)
	note := ""
	malformed := 0
	incomplete := 0

	// Consecutive identical failing invocations are short-circuited with
	// the cached outcome instead of re-running the tool.
	failed := make(map[string]domain.ToolInvocation)
	lastFailedKey := ""

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			e.failCtx(turn, sink, err)
			return
		}

		assembled := e.assembler.Assemble(sess.Mode, sess.Quality, history)
		if note != "" {
			assembled = prompt.Augment(assembled, note)
			note = ""
		}

		text, call, err := e.consumeStream(ctx, turn, sink)(assembled)
		turn.AssistantText += text
		if err != nil {
			switch kind := domain.KindOf(err); kind {
			case domain.Cancelled, domain.BudgetExceeded:
				e.failCtx(turn, sink, err)
				return
			case domain.MalformedOutput:
				malformed++
				if malformed > e.cfg.MalformedRetries {
					e.fail(turn, sink, domain.MalformedOutput,
						"assistant output left a tool block unterminated after retries")
					return
				}
				note = "Your previous reply left a tool block unterminated. Resend a single complete tool call."
				continue
			default:
				// LLM retries are exhausted inside consumeStream; whatever
				// reaches here is fatal for the turn.
				e.fail(turn, sink, kind, err.Error())
				return
			}
		}

		if call == nil {
			incomplete++
			if incomplete > e.cfg.MalformedRetries {
				e.fail(turn, sink, domain.Incomplete,
					"assistant output ended without a tool call or completion marker after retries")
				return
			}
			if text != "" {
				entry := domain.ConversationEntry{Role: domain.RoleAssistant, Content: text}
				history = append(history, entry)
				sink.AppendEntry(entry)
			}
			note = "Your previous reply ended without a tool call or completion marker. Every reply must contain exactly one."
			continue
		}

		spec, _ := e.registry.Lookup(call.Name)
		if verr := e.registry.Validate(call.Name, call.Params); verr != nil {
			inv := domain.ToolInvocation{
				CorrelationID: uuid.NewString(),
				Tool:          call.Name,
				Params:        call.Params,
				Status:        domain.InvocationRejected,
				ErrKind:       domain.KindOf(verr),
				ErrMessage:    verr.Error(),
			}
			turn.Invocations = append(turn.Invocations, inv)
			e.emitToolResult(turn, sink, inv)
			entry := domain.ConversationEntry{
				Role:          domain.RoleSystemNote,
				Content:       fmt.Sprintf("tool call %s rejected: %v", call.Name, verr),
				CorrelationID: inv.CorrelationID,
				ToolName:      call.Name,
			}
			history = append(history, entry)
			sink.AppendEntry(entry)
			continue
		}

		if spec.Terminal {
			if done := e.finishTerminal(turn, sink, sess.Mode, call, text, &history); done {
				log.Info("turn completed", "iterations", iter)
				return
			}
			continue
		}

		// Regular tool dispatch.
		turn.State = domain.TurnAwaitingTool
		corr := uuid.NewString()
		assistantEntry := domain.ConversationEntry{
			Role:          domain.RoleAssistant,
			Content:       text,
			CorrelationID: corr,
			ToolName:      call.Name,
		}
		history = append(history, assistantEntry)
		sink.AppendEntry(assistantEntry)
		sink.Emit(domain.EventToolRequested, domain.ToolRequestedPayload{
			TurnID:        turn.ID,
			CorrelationID: corr,
			Tool:          call.Name,
			Params:        call.Params,
		})

		key := invocationKey(call)
		var inv domain.ToolInvocation
		if cached, ok := failed[key]; ok && key == lastFailedKey {
			inv = cached
			inv.CorrelationID = corr
			e.emitToolResult(turn, sink, inv)
			noteEntry := domain.ConversationEntry{
				Role:    domain.RoleSystemNote,
				Content: fmt.Sprintf("tool %s was just retried with identical parameters and short-circuited with the previous failure: %s", call.Name, inv.ErrMessage),
			}
			history = append(history, noteEntry)
			sink.AppendEntry(noteEntry)
			turn.Invocations = append(turn.Invocations, inv)
			turn.State = domain.TurnInProgress
			continue
		}

		inv = e.executor.Invoke(ctx, corr, call.Name, call.Params, sess.Mode)
		turn.Invocations = append(turn.Invocations, inv)
		e.emitToolResult(turn, sink, inv)

		if ctx.Err() != nil {
			e.failCtx(turn, sink, ctx.Err())
			return
		}

		var resultEntry domain.ConversationEntry
		if inv.Status == domain.InvocationSucceeded {
			lastFailedKey = ""
			resultEntry = domain.ConversationEntry{
				Role:          domain.RoleToolResult,
				Content:       e.truncate(inv.Result),
				CorrelationID: corr,
				ToolName:      call.Name,
			}
		} else {
			failed[key] = inv
			lastFailedKey = key
			resultEntry = domain.ConversationEntry{
				Role:          domain.RoleToolResult,
				Content:       fmt.Sprintf("error (%s): %s", inv.ErrKind, e.truncate(inv.ErrMessage)),
				CorrelationID: corr,
				ToolName:      call.Name,
			}
		}
		history = append(history, resultEntry)
		sink.AppendEntry(resultEntry)
		turn.State = domain.TurnInProgress
	}

	e.fail(turn, sink, domain.BudgetExceeded,
		fmt.Sprintf("turn exceeded its iteration budget of %d", e.cfg.MaxIterations))
}

// finishTerminal handles the three terminal markers. It reports whether the
// turn reached a terminal state; a rejected marker feeds a system note back
// into the loop instead.
func (e *Engine) finishTerminal(turn *domain.Turn, sink session.Sink, mode domain.Mode, call *ToolCall, text string, history *[]domain.ConversationEntry) bool {
	spec, _ := e.registry.Lookup(call.Name)
	if spec.PlanOnly && mode != domain.ModePlan {
		entry := domain.ConversationEntry{
			Role:    domain.RoleSystemNote,
			Content: fmt.Sprintf("tool %s is only allowed in PLAN mode", call.Name),
		}
		*history = append(*history, entry)
		sink.AppendEntry(entry)
		return false
	}

	entry := domain.ConversationEntry{Role: domain.RoleAssistant, Content: text, ToolName: call.Name}
	*history = append(*history, entry)
	sink.AppendEntry(entry)

	turn.State = domain.TurnCompleted
	payload := domain.TurnCompletedPayload{TurnID: turn.ID}
	switch call.Name {
	case tools.NameAskFollowup:
		question, _ := call.Params["question"].(string)
		turn.FollowUp = question
		payload.FollowUp = question
	case tools.NamePlanRespond:
		response, _ := call.Params["response"].(string)
		payload.Result = response
	default: // attempt_completion
		result, _ := call.Params["result"].(string)
		command, _ := call.Params["command"].(string)
		payload.Result = result
		payload.Command = command
	}
	sink.Emit(domain.EventTurnCompleted, payload)
	return true
}

// consumeStream returns a closure running one prompt against the streamer,
// retrying transient failures internally with backoff. It yields the text
// accumulated in the final attempt, the detected tool call if any, and an
// error only when the iteration cannot proceed.
func (e *Engine) consumeStream(ctx context.Context, turn *domain.Turn, sink session.Sink) func(assembled string) (string, *ToolCall, error) {
	known := func(name string) bool {
		_, ok := e.registry.Lookup(name)
		return ok
	}
	validate := e.validator != nil && sink.ValidationEnabled()

	return func(assembled string) (string, *ToolCall, error) {
		var lastErr error
		for attempt := 1; attempt <= e.cfg.LLMMaxRetries; attempt++ {
			if attempt > 1 {
				if err := e.backoff.Sleep(ctx, attempt-1, llm.RetryAfter(lastErr)); err != nil {
					return "", nil, e.classifyCtx(ctx)
				}
				// Partial text from the failed attempt stays on the turn
				// but is not part of the retried iteration.
				e.logger.Debug("retrying llm stream",
					"turn_id", turn.ID, "attempt", attempt, "error", lastErr)
			}

			text, call, err := e.consumeOnce(ctx, turn, sink, assembled, known, validate)
			if err == nil {
				return text, call, nil
			}
			turn.AssistantText += text

			kind := domain.KindOf(err)
			if kind == domain.Cancelled || kind == domain.BudgetExceeded || kind == domain.MalformedOutput {
				return "", nil, err
			}
			if !domain.Retryable(err) {
				return "", nil, err
			}
			lastErr = err
		}
		return "", nil, lastErr
	}
}

// consumeOnce runs a single stream attempt.
func (e *Engine) consumeOnce(ctx context.Context, turn *domain.Turn, sink session.Sink, assembled string, known func(string) bool, validate bool) (string, *ToolCall, error) {
	sctx := ctx
	var cancel context.CancelFunc
	if e.cfg.StreamBudget > 0 {
		sctx, cancel = context.WithTimeout(ctx, e.cfg.StreamBudget)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var text strings.Builder
	pending := 0   // unflushed chunk characters
	flushed := 0   // characters already emitted as chunks
	lastCheck := 0 // characters validated so far

	flush := func(upTo int) {
		if upTo <= flushed {
			return
		}
		sink.Emit(domain.EventAssistantChunk, domain.ChunkPayload{
			TurnID: turn.ID,
			Text:   text.String()[flushed:upTo],
		})
		flushed = upTo
		pending = 0
	}

	for token, err := range e.streamer.Stream(sctx, assembled, e.cfg.Model) {
		if err != nil {
			if ctx.Err() != nil {
				return text.String(), nil, e.classifyCtx(ctx)
			}
			if sctx.Err() != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
				return text.String(), nil, domain.WrapError(domain.LLMTimeout, err, "stream budget exceeded")
			}
			return text.String(), nil, err
		}
		if ctx.Err() != nil {
			return text.String(), nil, e.classifyCtx(ctx)
		}

		text.WriteString(token)
		pending += len(token)

		if call, _ := scanToolCall(text.String(), known); call != nil {
			// The terminal marker ends this iteration's stream.
			flush(call.End)
			cancel()
			return text.String()[:call.End], call, nil
		}
		if pending >= e.cfg.ChunkCoalesce {
			flush(text.Len())
		}

		if validate && text.Len()-lastCheck >= e.cfg.ValidateCheckpoint {
			lastCheck = text.Len()
			for _, issue := range e.validator.Check(text.String()) {
				sink.Emit(domain.EventValidationFeedback, domain.ValidationPayload{
					TurnID:   turn.ID,
					Issue:    issue.Message,
					Critical: issue.Critical,
					Score:    issue.Score,
				})
				if issue.Critical {
					cancel()
					return text.String(), nil, domain.Errorf(domain.CriticalValidation,
						"stream aborted by validator: %s", issue.Message)
				}
			}
		}
	}

	flush(text.Len())
	if _, open := scanToolCall(text.String(), known); open {
		return text.String(), nil, domain.Errorf(domain.MalformedOutput,
			"stream ended with an unterminated tool block")
	}
	// Stream exhausted without a terminal marker: the caller treats a nil
	// call as Incomplete.
	return text.String(), nil, nil
}

func (e *Engine) emitToolResult(turn *domain.Turn, sink session.Sink, inv domain.ToolInvocation) {
	sink.Emit(domain.EventToolResult, domain.ToolResultPayload{
		TurnID:        turn.ID,
		CorrelationID: inv.CorrelationID,
		Tool:          inv.Tool,
		Status:        inv.Status,
		Result:        inv.Result,
		ErrorKind:     inv.ErrKind,
		ErrorMessage:  inv.ErrMessage,
		Attempts:      inv.AttemptCount(),
	})
}

// fail terminates the turn with a failure event and a system note so later
// turns have context.
func (e *Engine) fail(turn *domain.Turn, sink session.Sink, kind domain.ErrorKind, msg string) {
	if kind == domain.Cancelled {
		turn.State = domain.TurnCancelled
	} else {
		turn.State = domain.TurnFailed
	}
	turn.FailureKind = kind
	turn.FailureMessage = msg
	sink.AppendEntry(domain.ConversationEntry{
		Role:    domain.RoleSystemNote,
		Content: fmt.Sprintf("turn failed (%s): %s", kind, msg),
	})
	sink.Emit(domain.EventTurnFailed, domain.TurnFailedPayload{
		TurnID:  turn.ID,
		Kind:    kind,
		Message: msg,
	})
	e.logger.Warn("turn failed", "turn_id", turn.ID, "kind", kind, "message", msg)
}

func (e *Engine) failCtx(turn *domain.Turn, sink session.Sink, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		e.fail(turn, sink, domain.BudgetExceeded, "turn exceeded its wall-clock budget")
		return
	}
	e.fail(turn, sink, domain.Cancelled, "turn cancelled")
}

// classifyCtx maps the turn context's termination to a turn failure kind.
func (e *Engine) classifyCtx(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Errorf(domain.BudgetExceeded, "turn exceeded its wall-clock budget")
	}
	return domain.Errorf(domain.Cancelled, "turn cancelled")
}

// truncate caps tool output folded back into history.
func (e *Engine) truncate(s string) string {
	limit := e.cfg.ToolOutputLimit
	lineLimit := e.cfg.ToolLineLimit
	if limit <= 0 && lineLimit <= 0 {
		return s
	}
	truncated := false
	if lineLimit > 0 {
		if lines := strings.Split(s, "\n"); len(lines) > lineLimit {
			s = strings.Join(lines[:lineLimit], "\n")
			truncated = true
		}
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
		truncated = true
	}
	if truncated {
		s += "\n[output truncated]"
	}
	return s
}

// invocationKey identifies a tool call by name and canonical parameters.
func invocationKey(call *ToolCall) string {
	encoded, _ := json.Marshal(call.Params) // map keys marshal sorted
	return call.Name + ":" + string(encoded)
}
