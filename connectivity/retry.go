package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds how often and how fast a failed call is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Base is the wait before the first retry, doubled on every retry.
	Base time.Duration
	// Max caps the wait between retries. Zero means uncapped.
	Max time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error except an open circuit.
	Retryable func(error) bool
	// OnRetry is called before each wait with the 1-based retry number.
	OnRetry func(ctx context.Context, retry int, err error, wait time.Duration)
	// Sleep replaces the context-aware timer wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait before the given retry (0-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 0; i < retry; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// WithRetry returns a HandlerMiddleware that retries failed calls with
// exponential backoff. It stops on non-retryable errors and on context
// cancellation, returning the last error seen.
func WithRetry(policy RetryPolicy, logger *slog.Logger) HandlerMiddleware {
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if ctx.Err() != nil || !policy.retryable(err) || attempt == policy.MaxRetries {
					return nil, lastErr
				}

				wait := policy.Delay(attempt)
				if logger != nil {
					logger.WarnContext(ctx, "retrying call",
						"attempt", attempt+1,
						"max_retries", policy.MaxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				if policy.OnRetry != nil {
					policy.OnRetry(ctx, attempt+1, err, wait)
				}
				if err := sleep(ctx, wait); err != nil {
					return nil, lastErr
				}
			}
			return nil, lastErr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
