package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the engine. Kinds, not types: a single
// error value carries its kind so retry policy and reporting stay in one place.
type ErrorKind string

const (
	UnknownSession      ErrorKind = "UnknownSession"
	InvalidConfig       ErrorKind = "InvalidConfig"
	TurnBusy            ErrorKind = "TurnInProgress"
	ModeLocked          ErrorKind = "ModeLocked"
	UnknownTool         ErrorKind = "UnknownTool"
	InvalidToolParams   ErrorKind = "InvalidToolParams"
	PostconditionFailed ErrorKind = "PostconditionFailed"
	PermissionDenied    ErrorKind = "PermissionDenied"
	ToolTransient       ErrorKind = "ToolTransient"
	LLMTimeout          ErrorKind = "LLMTimeout"
	LLMTransient        ErrorKind = "LLMTransient"
	LLMRateLimited      ErrorKind = "LLMRateLimited"
	LLMPermanent        ErrorKind = "LLMPermanent"
	Incomplete          ErrorKind = "Incomplete"
	MalformedOutput     ErrorKind = "MalformedOutput"
	CriticalValidation  ErrorKind = "CriticalValidation"
	BudgetExceeded      ErrorKind = "BudgetExceeded"
	Cancelled           ErrorKind = "Cancelled"
	SubscriberLagged    ErrorKind = "SubscriberLagged"
	SearchNotFound      ErrorKind = "SearchNotFound"
	FileNotFound        ErrorKind = "FileNotFound"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case LLMTimeout, LLMTransient, LLMRateLimited, ToolTransient, Incomplete, CriticalValidation:
		return true
	default:
		return false
	}
}

// Error is the carrier for classified failures.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf builds a classified error.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// an empty kind.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err carries a retryable kind. Unclassified
// errors are treated as non-retryable.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
