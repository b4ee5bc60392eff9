package llm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes exponential backoff with jitter.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // 0..1 fraction of the computed delay
}

// DefaultPolicy matches the engine defaults: 250ms base, 10s cap, doubling,
// 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Delay computes the backoff for a 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	base += base * p.Jitter * rand.Float64() // #nosec G404 -- jitter needs no crypto randomness
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}
	return time.Duration(base)
}

// Sleep waits the backoff for attempt, or returns early when ctx is done.
// A non-zero override (a provider-indicated retry delay) replaces the
// computed backoff.
func (p Policy) Sleep(ctx context.Context, attempt int, override time.Duration) error {
	d := p.Delay(attempt)
	if override > 0 {
		d = override
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
