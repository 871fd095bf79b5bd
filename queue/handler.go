package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Handler executes one claimed job. Returning nil marks the attempt
// successful; returning an error hands the job to the retry policy.
type Handler func(ctx context.Context, job *ActiveJob) error

// ActiveJob is the handler-side view of a claimed job. It carries the
// snapshot read at claim time plus the capabilities a handler may use while
// running: durable checkpoints, manual heartbeats and the cooperative
// cancellation flag.
type ActiveJob struct {
	Job

	ledger    Ledger
	now       func() time.Time
	cancelled atomic.Bool
}

func newActiveJob(j *Job, ledger Ledger, now func() time.Time) *ActiveJob {
	a := &ActiveJob{Job: *j, ledger: ledger, now: now}
	a.cancelled.Store(j.CancelRequested)
	return a
}

// WriteCheckpoint durably persists a progress blob. Each call commits on its
// own, so a crash afterwards loses at most the work since this write. The
// next attempt of the job observes the last committed blob in Checkpoint.
func (a *ActiveJob) WriteCheckpoint(ctx context.Context, blob []byte) error {
	if err := a.ledger.WriteCheckpoint(ctx, a.ID, blob); err != nil {
		return fmt.Errorf("write checkpoint for job %d: %w", a.ID, err)
	}
	a.Job.Checkpoint = blob
	return nil
}

// Heartbeat refreshes the job's liveness timestamp immediately. The worker
// pool already heartbeats in the background; handlers only need this around
// sections long enough to outlive the automatic interval.
func (a *ActiveJob) Heartbeat(ctx context.Context) error {
	cancelled, err := a.ledger.Heartbeat(ctx, a.ID, a.now())
	if err != nil {
		return fmt.Errorf("heartbeat job %d: %w", a.ID, err)
	}
	if cancelled {
		a.cancelled.Store(true)
	}
	return nil
}

// CancelRequested reports whether a cooperative cancel has been requested
// for this job. The flag is refreshed by the background heartbeat; honoring
// it is up to the handler.
func (a *ActiveJob) CancelRequested() bool {
	return a.cancelled.Load()
}

// JSONHandler adapts a typed function into a Handler by unmarshaling the
// opaque payload as JSON.
func JSONHandler[T any](fn func(ctx context.Context, job *ActiveJob, payload T) error) Handler {
	return func(ctx context.Context, job *ActiveJob) error {
		var payload T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("unmarshal payload for job %d: %w", job.ID, err)
			}
		}
		return fn(ctx, job, payload)
	}
}
