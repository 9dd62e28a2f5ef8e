package retry

import (
	"context"
	"time"
)

const (
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 2 * time.Second
	DefaultMultiplier     = 1.0
)

// Backoff is a capped exponential delay policy. MaxAttempts of zero means
// attempts are never exhausted.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff keeps retrying every two seconds forever.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    DefaultInitialBackoff,
		Max:        DefaultMaxBackoff,
		Multiplier: DefaultMultiplier,
	}
}

func (b Backoff) normalized() Backoff {
	if b.Initial < 0 {
		b.Initial = 0
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxAttempts < 0 {
		b.MaxAttempts = 0
	}
	return b
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= b.Multiplier
		if delay >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(delay) > b.Max {
		return b.Max
	}
	return time.Duration(delay)
}

// Exhausted reports whether no attempt may follow the given failed attempt.
func (b Backoff) Exhausted(attempt int) bool {
	b = b.normalized()
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
