package shared

import "time"

// Default retry configuration
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Minute
)

// RetryPolicy computes exponential backoff for work that is requeued instead
// of re-thrown.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Backoff returns the delay before the given attempt (1-based):
// base, 2*base, 4*base, ... capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseBackoff
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	// Guard the shift against overflow for very large attempt counts.
	if attempt > 32 {
		return maxBackoff
	}
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

// Exhausted reports whether attempts has reached the limit.
func (p RetryPolicy) Exhausted(attempts int) bool {
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	return attempts >= limit
}
