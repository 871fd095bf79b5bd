package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Queue is the caller-facing facade over a Ledger. A host process opens one
// Queue per store, registers recurring schedules, enqueues jobs and attaches
// workers to it.
type Queue struct {
	ledger            Ledger
	policy            RetryPolicy
	parseCadence      CadenceParser
	logger            *slog.Logger
	now               func() time.Time
	liveness          time.Duration
	defaultMaxRetries int
	closed            atomic.Bool
}

// DefaultLivenessThreshold is how stale a heartbeat must be before a running
// job is presumed orphaned.
const DefaultLivenessThreshold = 5 * time.Minute

// Open wraps a ledger into a Queue and runs the crash-recovery sweep:
// orphaned running jobs are returned to pending and half-finished recurrence
// steps are healed. Workers must be created only from an opened queue so the
// sweep always precedes the first claim.
func Open(ctx context.Context, ledger Ledger, opts ...Option) (*Queue, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger cannot be nil", ErrValidation)
	}

	q := &Queue{
		ledger:            ledger,
		policy:            DefaultRetryPolicy(),
		parseCadence:      ParseCadence,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:               time.Now,
		liveness:          DefaultLivenessThreshold,
		defaultMaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.recover(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue validates and persists a new pending job, returning its id.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...EnqueueOption) (int64, error) {
	if q.closed.Load() {
		return 0, ErrQueueClosed
	}
	if strings.TrimSpace(jobType) == "" {
		return 0, fmt.Errorf("%w: job type cannot be empty", ErrValidation)
	}

	now := q.now().UTC()
	job := &Job{
		Type:       jobType,
		Payload:    payload,
		State:      StatePending,
		RunAt:      now,
		MaxRetries: q.defaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.MaxRetries < 0 {
		return 0, fmt.Errorf("%w: max retries cannot be negative", ErrValidation)
	}

	id, err := q.ledger.InsertJob(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("enqueue %q: %w", jobType, err)
	}

	q.logger.Debug("job enqueued",
		slog.Int64("job_id", id),
		slog.String("job_type", jobType),
		slog.Int("priority", job.Priority),
		slog.Time("run_at", job.RunAt))
	return id, nil
}

// GetStatus returns the caller-facing view of a job.
func (q *Queue) GetStatus(ctx context.Context, id int64) (*Status, error) {
	job, err := q.ledger.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		ID:         job.ID,
		Type:       job.Type,
		State:      job.State,
		Attempt:    job.Attempt,
		MaxRetries: job.MaxRetries,
		RunAt:      job.RunAt,
		Checkpoint: job.Checkpoint,
		LastError:  job.LastError,
	}, nil
}

// Cancel cancels a job that is still pending. A racing claim wins
// deterministically: when the job is already running, Cancel raises the
// cooperative cancel flag for the handler and reports ErrNotPending.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	if err := q.ledger.CancelIfPending(ctx, id, q.now().UTC()); err != nil {
		return err
	}
	q.logger.Info("job cancelled", slog.Int64("job_id", id))
	return nil
}

// Modify updates the mutable fields of a job that is still pending.
func (q *Queue) Modify(ctx context.Context, id int64, mod Modification) error {
	if mod.MaxRetries != nil && *mod.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrValidation)
	}
	return q.ledger.ModifyIfPending(ctx, id, mod, q.now().UTC())
}

// RegisterRecurring stores a schedule and enqueues its first occurrence.
// The returned id links occurrences back to the schedule.
func (q *Queue) RegisterRecurring(ctx context.Context, name, jobType string, payload []byte, cadenceSpec string, opts ...ScheduleOption) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: schedule name cannot be empty", ErrValidation)
	}
	if strings.TrimSpace(jobType) == "" {
		return "", fmt.Errorf("%w: job type cannot be empty", ErrValidation)
	}
	cadence, err := q.parseCadence(cadenceSpec)
	if err != nil {
		return "", err
	}

	now := q.now().UTC()
	sched := &RecurringSchedule{
		ID:         uuid.NewString(),
		Name:       name,
		JobType:    jobType,
		Payload:    payload,
		MaxRetries: q.defaultMaxRetries,
		Cadence:    cadenceSpec,
		NextRunAt:  cadence.Next(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, opt := range opts {
		opt(sched)
	}

	if err := q.ledger.InsertSchedule(ctx, sched); err != nil {
		return "", fmt.Errorf("register schedule %q: %w", name, err)
	}
	// Materialize the first occurrence. Enqueue happens after the schedule
	// row exists so a crash in between is healed by the startup sweep, never
	// skipped.
	if _, _, err := q.insertOccurrence(ctx, sched, sched.NextRunAt); err != nil {
		return "", fmt.Errorf("enqueue first occurrence of %q: %w", name, err)
	}

	q.logger.Info("recurring schedule registered",
		slog.String("schedule_id", sched.ID),
		slog.String("name", name),
		slog.String("cadence", cadence.String()),
		slog.Time("next_run_at", sched.NextRunAt))
	return sched.ID, nil
}

// Schedules lists all registered recurring schedules.
func (q *Queue) Schedules(ctx context.Context) ([]*RecurringSchedule, error) {
	return q.ledger.ListSchedules(ctx)
}

// Stats returns the number of jobs per state.
func (q *Queue) Stats(ctx context.Context) (map[JobState]int, error) {
	return q.ledger.CountByState(ctx)
}

// ListJobs returns jobs filtered by state, oldest first.
func (q *Queue) ListJobs(ctx context.Context, state JobState, limit int) ([]*Job, error) {
	if state != "" && !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrValidation, state)
	}
	return q.ledger.ListJobs(ctx, state, limit)
}

// ListFailed returns terminally failed jobs, oldest first.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]*Job, error) {
	return q.ledger.ListJobs(ctx, StateFailed, limit)
}

// RequeueFailed clones a terminally failed job into a fresh pending one and
// returns the new id. The failed row stays terminal; terminal states are
// never mutated.
func (q *Queue) RequeueFailed(ctx context.Context, id int64) (int64, error) {
	job, err := q.ledger.GetJob(ctx, id)
	if err != nil {
		return 0, err
	}
	if job.State != StateFailed {
		return 0, fmt.Errorf("%w: job %d is %s", ErrStateConflict, id, job.State)
	}

	now := q.now().UTC()
	clone := &Job{
		Type:       job.Type,
		Payload:    job.Payload,
		Priority:   job.Priority,
		State:      StatePending,
		RunAt:      now,
		MaxRetries: job.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	newID, err := q.ledger.InsertJob(ctx, clone)
	if err != nil {
		return 0, fmt.Errorf("requeue failed job %d: %w", id, err)
	}
	q.logger.Info("failed job requeued",
		slog.Int64("job_id", id),
		slog.Int64("new_job_id", newID))
	return newID, nil
}

// Close marks the queue closed and releases the ledger. Workers must be
// stopped first.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.ledger.Close()
}
