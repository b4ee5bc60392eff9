package llm

import (
	"context"
	"iter"
	"sync"

	"github.com/cascadeworks/agentcore/domain"
)

// ScriptStep is one scripted stream attempt: either tokens delivered in
// order, or an error surfaced mid-stream after Tokens.
type ScriptStep struct {
	Tokens []string
	Err    error
}

// Script replays canned streams in order, one per Stream call. It is the
// in-process stand-in used by the engine's tests and local runs without a
// provider.
type Script struct {
	mu    sync.Mutex
	steps []ScriptStep
	calls int
	// Prompts records every prompt received, for assertions.
	Prompts []string
}

// NewScript builds a scripted streamer.
func NewScript(steps ...ScriptStep) *Script {
	return &Script{steps: steps}
}

// Calls returns how many times Stream was opened.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Stream replays the next scripted step.
func (s *Script) Stream(ctx context.Context, prompt string, _ Params) iter.Seq2[string, error] {
	s.mu.Lock()
	s.Prompts = append(s.Prompts, prompt)
	idx := s.calls
	s.calls++
	var step ScriptStep
	if idx < len(s.steps) {
		step = s.steps[idx]
	} else {
		step = ScriptStep{Err: domain.Errorf(domain.LLMTransient, "script exhausted after %d calls", len(s.steps))}
	}
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, tok := range step.Tokens {
			select {
			case <-ctx.Done():
				yield("", domain.WrapError(domain.Cancelled, ctx.Err(), "stream cancelled"))
				return
			default:
			}
			if !yield(tok, nil) {
				return
			}
		}
		if step.Err != nil {
			yield("", step.Err)
		}
	}
}
