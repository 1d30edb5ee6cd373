// Package retry runs short outbound operations with bounded exponential backoff.
//
// The gateway uses it for best-effort writes that must never block a request: revenue
// mirroring into the durable store and facilitator health probes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Growth factor between delays
}

// DefaultConfig is used for durable-store mirroring.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Always retries every error until attempts run out.
func Always(error) bool { return true }

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so WithRetry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// delayFor returns the wait before attempt n (0-based, n >= 1).
func (c Config) delayFor(n int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if c.MaxDelay > 0 && d > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, the attempts run out,
// or ctx is done. Each attempt receives ctx so callers can bound a single attempt with their
// own timeout.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if isRetryable == nil {
		isRetryable = Always
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(config.delayFor(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry aborted: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isPermanent(err) || !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Do is WithRetry for operations without a result.
func Do(ctx context.Context, config Config, isRetryable IsRetryable, fn func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, config, isRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
