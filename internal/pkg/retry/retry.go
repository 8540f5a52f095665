// Package retry provides bounded retry with exponential backoff for startup connections.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxBackoff = 16 * time.Second

// Do calls fn up to attempts times, sleeping between failures.
// what names the operation in logs and the returned error.
func Do(ctx context.Context, attempts int, what string, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			slog.Info(what+" succeeded", "attempts", attempt)
			return nil
		}
		lastErr = err

		if attempt < attempts {
			backoff := Backoff(attempt)
			slog.Warn(what+" failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff", backoff,
				"error", err,
			)
			if !Sleep(ctx, backoff) {
				return fmt.Errorf("%s cancelled: %w", what, ctx.Err())
			}
		}
	}

	return fmt.Errorf("%s after %d attempts: %w", what, attempts, lastErr)
}

// Backoff returns exponential backoff duration capped at 16 seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return maxBackoff
	}
	backoff := time.Duration(1<<(attempt-1)) * time.Second
	return min(backoff, maxBackoff)
}

// Sleep waits for duration or context cancellation. Returns false if cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
