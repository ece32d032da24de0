package executor

import (
	"time"

	lederr "github.com/fieldserve/taskledger/errors"
	"github.com/fieldserve/taskledger/ledger"
)

// Default backoff parameters.
const (
	DefaultBaseDelay = 30 * time.Second
	DefaultCapDelay  = 5 * time.Minute
)

// RetryPolicy decides whether a failed attempt retries and how long it
// waits first. Backoff grows linearly with the attempt number up to a
// cap: attempt 1 waits BaseDelay, attempt 2 twice that, and so on.
type RetryPolicy struct {
	// BaseDelay is the delay unit multiplied by the attempt number.
	// Default: 30s
	BaseDelay time.Duration

	// CapDelay bounds the computed delay.
	// Default: 5m
	CapDelay time.Duration
}

// DefaultRetryPolicy returns the standard backoff parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: DefaultBaseDelay,
		CapDelay:  DefaultCapDelay,
	}
}

// Delay returns the backoff before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.BaseDelay
	if d > p.CapDelay {
		return p.CapDelay
	}
	return d
}

// ShouldRetry reports whether a failed entry gets another attempt.
// Non-retryable errors and exhausted budgets both end in FAILED.
func (p RetryPolicy) ShouldRetry(e *ledger.Entry, err error) bool {
	if e.RetryCount >= e.MaxRetries {
		return false
	}
	return lederr.IsRetryable(err)
}
