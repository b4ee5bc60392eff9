package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cascadeworks/agentcore/domain"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2}
	if d := p.Delay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1: got %v", d)
	}
	if d := p.Delay(3); d != 400*time.Millisecond {
		t.Errorf("attempt 3: got %v", d)
	}
	if d := p.Delay(10); d != time.Second {
		t.Errorf("attempt 10 not capped: got %v", d)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Factor: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Second, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Sleep(ctx, 1, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSleepOverride(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Second, Factor: 2}
	start := time.Now()
	if err := p.Sleep(context.Background(), 1, time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("override ignored, slept %v", elapsed)
	}
}

func TestRetryAfter(t *testing.T) {
	err := RateLimited(errors.New("429"), 3*time.Second)
	if got := RetryAfter(err); got != 3*time.Second {
		t.Errorf("expected 3s, got %v", got)
	}
	if !domain.IsKind(err, domain.LLMRateLimited) {
		t.Errorf("expected LLMRateLimited, got %s", domain.KindOf(err))
	}
	if got := RetryAfter(errors.New("plain")); got != 0 {
		t.Errorf("expected zero for plain error, got %v", got)
	}
}

func TestScriptReplaysStepsInOrder(t *testing.T) {
	s := NewScript(
		ScriptStep{Tokens: []string{"a", "b"}},
		ScriptStep{Tokens: []string{"c"}, Err: domain.Errorf(domain.LLMTransient, "boom")},
	)

	var got []string
	for tok, err := range s.Stream(context.Background(), "p1", Params{}) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		got = append(got, tok)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("step 1 tokens: %v", got)
	}

	got = got[:0]
	var streamErr error
	for tok, err := range s.Stream(context.Background(), "p2", Params{}) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, tok)
	}
	if len(got) != 1 || got[0] != "c" {
		t.Errorf("step 2 tokens: %v", got)
	}
	if !domain.IsKind(streamErr, domain.LLMTransient) {
		t.Errorf("expected LLMTransient, got %v", streamErr)
	}

	if s.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", s.Calls())
	}
	if len(s.Prompts) != 2 || s.Prompts[0] != "p1" || s.Prompts[1] != "p2" {
		t.Errorf("prompts not recorded: %v", s.Prompts)
	}
}

func TestScriptExhaustedReportsTransient(t *testing.T) {
	s := NewScript()
	var streamErr error
	for _, err := range s.Stream(context.Background(), "p", Params{}) {
		streamErr = err
	}
	if !domain.IsKind(streamErr, domain.LLMTransient) {
		t.Errorf("expected LLMTransient on exhaustion, got %v", streamErr)
	}
}
