package worker

import "time"

// RetryPolicy is capped exponential backoff for audit appends.
// MaxRetries of zero retries forever.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy stays well inside the Sheets per-minute write quota.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// NextDelay is the wait before retrying after the given 1-based attempt failed.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := r.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 1 {
		factor = 2
	}

	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * factor)
		if next <= delay || (r.MaxDelay > 0 && next >= r.MaxDelay) {
			// overflowed or hit the cap
			if r.MaxDelay > 0 {
				return r.MaxDelay
			}
			return delay
		}
		delay = next
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempt used up the budget.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt >= r.MaxRetries
}
