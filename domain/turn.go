package domain

import (
	"time"
)

// TurnState is the lifecycle state of a turn.
type TurnState string

const (
	TurnQueued       TurnState = "Queued"
	TurnInProgress   TurnState = "InProgress"
	TurnAwaitingTool TurnState = "AwaitingTool"
	TurnCompleted    TurnState = "Completed"
	TurnFailed       TurnState = "Failed"
	TurnCancelled    TurnState = "Cancelled"
)

// Terminal reports whether the state is one of the three terminal states.
func (s TurnState) Terminal() bool {
	switch s {
	case TurnCompleted, TurnFailed, TurnCancelled:
		return true
	default:
		return false
	}
}

// Turn is one user submission and the assistant work it triggers.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Number    int       `json:"number"`
	UserInput string    `json:"user_input"`
	State     TurnState `json:"state"`

	// AssistantText accumulates streamed model output across iterations.
	AssistantText string `json:"assistant_text"`

	Invocations []ToolInvocation `json:"invocations,omitempty"`

	// FailureKind and FailureMessage are set when State is Failed or Cancelled.
	FailureKind    ErrorKind `json:"failure_kind,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`

	// FollowUp is set when the turn completed by asking the user a question.
	FollowUp string `json:"follow_up,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Clone returns a copy with its own invocation slice.
func (t Turn) Clone() Turn {
	out := t
	out.Invocations = make([]ToolInvocation, len(t.Invocations))
	copy(out.Invocations, t.Invocations)
	return out
}

// InvocationStatus is the final status of a tool invocation.
type InvocationStatus string

const (
	InvocationSucceeded InvocationStatus = "Succeeded"
	InvocationFailed    InvocationStatus = "Failed"
	InvocationRejected  InvocationStatus = "RejectedByValidation"
)

// Attempt records the outcome of a single execution attempt.
type Attempt struct {
	Number  int       `json:"number"`
	Err     string    `json:"error,omitempty"`
	ErrKind ErrorKind `json:"error_kind,omitempty"`
	At      time.Time `json:"at"`
}

// ToolInvocation is one requested tool execution, retries collapsed into a
// single logical outcome.
type ToolInvocation struct {
	CorrelationID string            `json:"correlation_id"`
	Tool          string            `json:"tool"`
	Params        map[string]any    `json:"params"`
	Attempts      []Attempt         `json:"attempts,omitempty"`
	Status        InvocationStatus  `json:"status"`
	Result        string            `json:"result,omitempty"`
	ErrKind       ErrorKind         `json:"error_kind,omitempty"`
	ErrMessage    string            `json:"error_message,omitempty"`
}

// AttemptCount returns the number of attempts made, at least 1 once executed.
func (inv ToolInvocation) AttemptCount() int {
	return len(inv.Attempts)
}
