package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Exponential(3, time.Millisecond, isTransient)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	p := Fixed(3, time.Millisecond, isTransient)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want errTransient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	p := Exponential(3, time.Millisecond, isTransient)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("err = %v, want errPermanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoDoesNotRetryAfterDeadline(t *testing.T) {
	p := Fixed(3, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelay(t *testing.T) {
	exp := Exponential(3, time.Second, nil)
	if got := exp.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %v, want 1s", got)
	}
	if got := exp.Delay(2); got != 2*time.Second {
		t.Errorf("Delay(2) = %v, want 2s", got)
	}

	fixed := Fixed(3, 8*time.Second, nil)
	if got := fixed.Delay(2); got != 8*time.Second {
		t.Errorf("Delay(2) = %v, want 8s", got)
	}
}

func TestOnRetryReportsEachWait(t *testing.T) {
	var waits []time.Duration
	p := Exponential(3, time.Millisecond, nil)
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		waits = append(waits, delay)
	}

	_ = p.Do(context.Background(), func(ctx context.Context) error { return errTransient })

	if len(waits) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(waits))
	}
	if waits[1] != 2*waits[0] {
		t.Errorf("waits = %v, want doubling", waits)
	}
}
