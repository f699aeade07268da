package editorbridge

import (
	"time"

	"github.com/hazyhaar/uemcp/connectivity"
)

// BackoffPolicy bounds retries of throttled commands. Only throttle
// signals are ever retried; a timed-out or refused command is not.
type BackoffPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// DefaultBackoff retries three times at 250ms, 500ms, 1s.
var DefaultBackoff = BackoffPolicy{MaxRetries: 3, Base: 250 * time.Millisecond, Max: 4 * time.Second}

// Delay returns the wait before retry number attempt (0-based): Base
// doubled per attempt, capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.retryPolicy().Delay(attempt)
}

func (p BackoffPolicy) retryPolicy() connectivity.RetryPolicy {
	return connectivity.RetryPolicy{
		MaxRetries: p.MaxRetries,
		Base:       p.Base,
		Max:        p.Max,
		Retryable:  IsThrottled,
	}
}
