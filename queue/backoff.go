package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes retry delays and terminal-failure decisions from the
// attempt count alone. It is pure apart from the jitter, so the non-jittered
// delay sequence is exactly reproducible.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration
	// Jitter is the maximum fraction added or subtracted from the computed
	// delay to spread out simultaneous re-claims. 0.2 means +-20%.
	Jitter float64
}

// DefaultRetryPolicy mirrors the defaults the queue uses when none is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: 20 * time.Second,
		MaxDelay:  time.Hour,
		Jitter:    0.2,
	}
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	// Retry is false when the retry budget is exhausted and the job must be
	// failed terminally.
	Retry bool
	// RunAt is the time of the next attempt when Retry is true.
	RunAt time.Time
}

// Decide returns the retry decision after attempt failed executions of a job
// allowing maxRetries retries. Attempt 1 is the initial execution, so a job
// with maxRetries = 2 runs at most 3 times.
func (p RetryPolicy) Decide(attempt, maxRetries int, now time.Time) Decision {
	if attempt > maxRetries {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, RunAt: now.Add(p.jittered(attempt))}
}

// Delay returns the deterministic, non-jittered delay before the retry that
// follows the given failed attempt: BaseDelay * 2^(attempt-1), capped at
// MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) jittered(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter <= 0 {
		return d
	}
	// Uniform in [-Jitter, +Jitter].
	frac := (rand.Float64()*2 - 1) * p.Jitter
	return time.Duration(float64(d) * (1 + frac))
}
