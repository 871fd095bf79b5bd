package queue

import "errors"

// Sentinel errors. Callers distinguish error kinds with errors.Is; ledger
// implementations wrap these so the core never inspects driver errors.
var (
	// ErrNotFound is returned when a job or schedule id is unknown.
	ErrNotFound = errors.New("job not found")

	// ErrScheduleNotFound is returned when a recurring schedule id or name
	// is unknown.
	ErrScheduleNotFound = errors.New("recurring schedule not found")

	// ErrStateConflict is returned by a guarded transition whose expected
	// state no longer matches the row. Always recoverable by re-reading.
	ErrStateConflict = errors.New("job state conflict")

	// ErrNotPending is returned by cancel/modify when the job has already
	// left the pending state.
	ErrNotPending = errors.New("job is not pending")

	// ErrUnhandledJobType is recorded when a claimed job has no registered
	// handler. Terminal: retrying cannot help a configuration bug.
	ErrUnhandledJobType = errors.New("no handler registered for job type")

	// ErrValidation is returned for malformed requests, rejected before any
	// ledger write.
	ErrValidation = errors.New("validation error")

	// ErrStoreBusy marks a transient store failure (lock contention or
	// timeout). The claim loop retries these with bounded backoff; any
	// other store error is treated as fatal and halts claiming.
	ErrStoreBusy = errors.New("store busy")

	// ErrDuplicateSchedule is returned when registering a recurring
	// schedule whose name is already taken.
	ErrDuplicateSchedule = errors.New("recurring schedule already registered")

	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)
