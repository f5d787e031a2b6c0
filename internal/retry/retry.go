package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/yanun0323/logs"
)

// TransientError marks a failure as retryable (network, timeout).
// Validation and risk-rejection failures must never carry it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the retry policy will retry it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err belongs to the retryable failure
// class.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Policy retries an operation with exponential backoff. Only
// transient failures are retried; everything else surfaces on the
// first attempt.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a policy; maxAttempts <= 0 means 3.
func NewPolicy(maxAttempts int, backoff Backoff) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return Policy{MaxAttempts: maxAttempts, Backoff: backoff}
}

// Do runs op until it succeeds, fails permanently, exhausts
// MaxAttempts, or ctx is canceled. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	wait := p.sleep
	if wait == nil {
		wait = sleepContext
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= attempts {
			return err
		}
		delay := p.Backoff.Next(attempt)
		logs.Warnf("retry %d/%d after transient failure: %v (waiting %s)", attempt, attempts, err, delay)
		if werr := wait(ctx, delay); werr != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
