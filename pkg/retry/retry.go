// Package retry provides a bounded exponential-backoff retry wrapper for
// transient I/O failures.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do invokes op up to maxRetries times. After a failed attempt n (1-based) it
// waits min(baseDelay * 2^(n-1), maxDelay) before the next attempt. The last
// error is returned once all attempts are exhausted. The wait is cut short
// when ctx is cancelled.
func Do(ctx context.Context, maxRetries int, baseDelay, maxDelay time.Duration, op func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if err := sleep(ctx, backoff(attempt, baseDelay, maxDelay)); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, maxRetries int, baseDelay, maxDelay time.Duration, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, maxRetries, baseDelay, maxDelay, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}

func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
