package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 1 * time.Second
)

// RetryPolicy wraps a single collaborator call with bounded retry and linear
// backoff (backoff * attempt between attempts). Only transient errors are
// retried; validation and other terminal errors return immediately.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do invokes fn at most MaxRetries times. On exhaustion it returns an error
// wrapping ErrRetriesExhausted so callers can check the sentinel instead of
// counting attempts themselves.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.Backoff*time.Duration(attempt-1)); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
		slog.WarnContext(ctx, "transient failure, will retry",
			"op", op, "attempt", attempt, "max_attempts", p.MaxRetries, "error", err)
	}

	return fmt.Errorf("%s: %w: %v", op, ErrRetriesExhausted, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
