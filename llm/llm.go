// Package llm provides a uniform token-streaming interface over LLM providers.
package llm

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/cascadeworks/agentcore/domain"
)

// Params enumerates the request parameters the engine controls.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Stop        []string
	// Deadline bounds the whole stream; zero means the caller's context rules.
	Deadline time.Duration
}

// Streamer is the provider contract. The returned sequence yields tokens in
// the order the provider produced them, never reordered or deduplicated, and
// ends after the final token or the first error. Cancellation is the
// context: cancel it and the sequence terminates at the next token boundary.
type Streamer interface {
	Stream(ctx context.Context, prompt string, params Params) iter.Seq2[string, error]
}

// rateLimitedError carries the provider-indicated retry delay.
type rateLimitedError struct {
	err   error
	after time.Duration
}

func (e *rateLimitedError) Error() string { return e.err.Error() }
func (e *rateLimitedError) Unwrap() error { return e.err }

// RateLimited wraps err as an LLMRateLimited failure carrying the
// provider-indicated delay.
func RateLimited(cause error, after time.Duration) error {
	return &rateLimitedError{
		err:   domain.WrapError(domain.LLMRateLimited, cause, "provider rate limited"),
		after: after,
	}
}

// RetryAfter extracts the provider-indicated delay from a rate-limit error,
// or zero when none was given.
func RetryAfter(err error) time.Duration {
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		return rl.after
	}
	return 0
}
