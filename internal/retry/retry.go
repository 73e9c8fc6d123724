package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/permaskills/skills/internal/clock"
)

// Policy describes how an operation is retried.
//
// The delay before retry n (n starting at 1) is BaseDelay * Multiplier^(n-1).
// A Multiplier of 0 or 1 yields a fixed delay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Retryable reports whether err is worth another attempt. A nil
	// predicate treats every error as retryable.
	Retryable func(error) bool

	// OnRetry is called before each wait with the attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)

	Clock clock.Clock
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: delay, Multiplier: 1, Retryable: retryable}
}

// Exponential returns a policy whose delay doubles after every attempt.
func Exponential(attempts int, base time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base, Multiplier: 2, Retryable: retryable}
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	m := p.Multiplier
	if m <= 1 {
		return p.BaseDelay
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(m, float64(n-1)))
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. An error returned after ctx is done is never
// retried: the deadline belongs to the caller.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(attempt-1, delay, lastErr)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: last attempt: %w", ctx.Err(), lastErr)
			case <-clk.After(delay):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return lastErr
}
