package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"main/internal/breaker"
)

var errNetwork = errors.New("connection reset")

func noSleepPolicy(maxAttempts int) Policy {
	p := NewPolicy(maxAttempts, DefaultBackoff())
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestRetriesTransient(t *testing.T) {
	p := noSleepPolicy(3)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errNetwork)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("want success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("call count mismatch: got %d", calls)
	}
}

func TestExhaustsAttempts(t *testing.T) {
	p := noSleepPolicy(3)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Transient(errNetwork)
	})
	if !errors.Is(err, errNetwork) {
		t.Fatalf("want errNetwork, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("call count mismatch: got %d", calls)
	}
}

func TestPermanentNotRetried(t *testing.T) {
	p := noSleepPolicy(5)

	permanent := errors.New("quantity must be > 0")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("want permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent failure retried: %d calls", calls)
	}
}

func TestDeadlineIsTransient(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if IsTransient(errors.New("rejected")) {
		t.Fatal("plain error should not be transient")
	}
	if IsTransient(breaker.ErrOpen) {
		t.Fatal("open breaker must fail fast, not retry")
	}
}

func TestBreakerComposition(t *testing.T) {
	// Wrapping the breaker's Execute as the retried operation: the
	// breaker trips mid-retry and the remaining attempts fail fast.
	brk := breaker.New("broker", breaker.Config{Threshold: 2, ResetTimeout: time.Minute})
	p := noSleepPolicy(5)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		return brk.Execute(func() error {
			calls++
			return Transient(errNetwork)
		})
	})
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("want ErrOpen after trip, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("underlying calls mismatch: got %d", calls)
	}
	if brk.State() != breaker.StateOpen {
		t.Fatalf("breaker state mismatch: got %s", brk.State())
	}
}

func TestBackoffGrowth(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	if d := b.Next(1); d != 100*time.Millisecond {
		t.Fatalf("attempt 1 mismatch: %s", d)
	}
	if d := b.Next(2); d != 200*time.Millisecond {
		t.Fatalf("attempt 2 mismatch: %s", d)
	}
	if d := b.Next(10); d != time.Second {
		t.Fatalf("capped attempt mismatch: %s", d)
	}
}
