package queue

import (
	"log/slog"
	"time"
)

// Option configures a Queue at construction.
type Option func(*Queue)

// WithRetryPolicy overrides the retry/backoff policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) {
		q.policy = p
	}
}

// WithCadenceParser installs a custom cadence grammar for recurring
// schedules.
func WithCadenceParser(p CadenceParser) Option {
	return func(q *Queue) {
		if p != nil {
			q.parseCadence = p
		}
	}
}

// WithLogger sets the structured logger used by the queue and its workers.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLivenessThreshold sets how stale a running job's heartbeat must be
// before the recovery sweep reclaims it.
func WithLivenessThreshold(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.liveness = d
		}
	}
}

// WithDefaultMaxRetries sets the retry ceiling applied when an enqueue does
// not specify one.
func WithDefaultMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.defaultMaxRetries = n
		}
	}
}

// EnqueueOption configures a single enqueued job.
type EnqueueOption func(*Job)

// WithPriority sets the job's priority; higher claims before lower.
func WithPriority(p int) EnqueueOption {
	return func(j *Job) {
		j.Priority = p
	}
}

// WithRunAt delays the job until the given time.
func WithRunAt(t time.Time) EnqueueOption {
	return func(j *Job) {
		j.RunAt = t
	}
}

// WithDelay delays the job by the given duration from now.
func WithDelay(d time.Duration) EnqueueOption {
	return func(j *Job) {
		if d > 0 {
			// Resolved against the queue clock at enqueue time.
			j.RunAt = j.RunAt.Add(d)
		}
	}
}

// WithMaxRetries sets the job's retry ceiling.
func WithMaxRetries(n int) EnqueueOption {
	return func(j *Job) {
		if n >= 0 {
			j.MaxRetries = n
		}
	}
}

// ScheduleOption configures a recurring schedule at registration.
type ScheduleOption func(*RecurringSchedule)

// WithSchedulePriority sets the priority of materialized occurrences.
func WithSchedulePriority(p int) ScheduleOption {
	return func(s *RecurringSchedule) {
		s.Priority = p
	}
}

// WithScheduleMaxRetries sets the retry ceiling of materialized occurrences.
func WithScheduleMaxRetries(n int) ScheduleOption {
	return func(s *RecurringSchedule) {
		if n >= 0 {
			s.MaxRetries = n
		}
	}
}
