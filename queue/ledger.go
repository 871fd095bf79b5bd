package queue

import (
	"context"
	"time"
)

// TransitionUpdate carries the optional field updates applied together with
// a guarded state transition. Nil fields are left untouched.
type TransitionUpdate struct {
	RunAt     *time.Time
	Attempt   *int
	Heartbeat *time.Time
	LastError *string
}

// Modification is the set of fields a caller may change on a job that is
// still pending. Nil fields are left untouched.
type Modification struct {
	Payload    []byte
	Priority   *int
	RunAt      *time.Time
	MaxRetries *int
}

// Ledger is the durable store contract the queue core runs on. Every method
// is atomic with respect to a crash: it either fully commits or leaves the
// row untouched. The one required synchronization primitive is the guarded
// transition — a state change accepted only when the row's current state
// matches the caller's expectation — which resolves all races without
// external locks.
//
// Implementations map transient contention to ErrStoreBusy and missing rows
// to ErrNotFound / ErrScheduleNotFound.
type Ledger interface {
	// InsertJob persists a new job and assigns its monotonically increasing
	// id.
	InsertJob(ctx context.Context, job *Job) (int64, error)

	// GetJob returns the job with the given id, including its latest
	// committed checkpoint.
	GetJob(ctx context.Context, id int64) (*Job, error)

	// GetJobByDedupKey returns the job carrying the given occurrence
	// idempotency key, or ErrNotFound.
	GetJobByDedupKey(ctx context.Context, key string) (*Job, error)

	// WriteCheckpoint durably overwrites the job's checkpoint blob. Each
	// call commits independently of any state transition.
	WriteCheckpoint(ctx context.Context, id int64, blob []byte) error

	// Transition moves the job from expected to next, applying upd in the
	// same commit. Returns ErrStateConflict when the row's state is not
	// expected.
	Transition(ctx context.Context, id int64, expected, next JobState, upd TransitionUpdate) error

	// ClaimNext atomically selects the best-ranked job with state pending
	// and run_at <= now (priority descending, run_at ascending, id
	// ascending), marks it running, increments attempt and stamps
	// heartbeat_at. Returns nil when no candidate qualifies.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)

	// Heartbeat refreshes heartbeat_at on a running job and reports whether
	// cooperative cancellation has been requested.
	Heartbeat(ctx context.Context, id int64, now time.Time) (cancelRequested bool, err error)

	// CancelIfPending transitions a pending job to cancelled. When the job
	// is running it sets the cooperative cancel flag and still returns
	// ErrNotPending; any other state returns ErrNotPending unchanged.
	CancelIfPending(ctx context.Context, id int64, now time.Time) error

	// ModifyIfPending applies mod to a job that is still pending, returning
	// ErrNotPending once it has been claimed or finished.
	ModifyIfPending(ctx context.Context, id int64, mod Modification, now time.Time) error

	// ListOrphaned returns ids of running jobs whose heartbeat_at is older
	// than cutoff.
	ListOrphaned(ctx context.Context, cutoff time.Time) ([]int64, error)

	// RequeueOrphan moves one orphaned running job back to pending with
	// run_at = now, refunding the interrupted attempt. Guarded per row so a
	// crash mid-sweep leaves no job stuck.
	RequeueOrphan(ctx context.Context, id int64, now time.Time) error

	// ListJobs returns jobs in the given state (all states when state is
	// empty), oldest first, up to limit (no limit when <= 0).
	ListJobs(ctx context.Context, state JobState, limit int) ([]*Job, error)

	// CountByState returns the number of jobs per state.
	CountByState(ctx context.Context) (map[JobState]int, error)

	// InsertSchedule persists a new recurring schedule.
	InsertSchedule(ctx context.Context, s *RecurringSchedule) error

	// GetSchedule returns a schedule by id.
	GetSchedule(ctx context.Context, id string) (*RecurringSchedule, error)

	// ListSchedules returns all recurring schedules.
	ListSchedules(ctx context.Context) ([]*RecurringSchedule, error)

	// InsertOccurrence inserts a job materialized from a schedule, keyed by
	// its idempotency key. When a job with the same key already exists the
	// insert is a no-op and inserted is false.
	InsertOccurrence(ctx context.Context, job *Job) (id int64, inserted bool, err error)

	// AdvanceSchedule moves next_run_at from to the given time, guarded on
	// the old value so concurrent advances cannot move it backwards.
	AdvanceSchedule(ctx context.Context, id string, from, to time.Time) error

	// Close releases the underlying store.
	Close() error
}
