// Package queue is an embeddable, durably persisted job queue: a host
// process enqueues units of work with priority, delayed execution and
// recurrence, and a bounded pool of workers claims and runs them with
// automatic retry, crash recovery and mid-execution checkpointing. No
// separate broker process is required.
//
// # Architecture
//
//  1. The Ledger interface encapsulates all persistence. Its one required
//     synchronization primitive is the guarded transition: a state change
//     accepted only when the row's current state matches the caller's
//     expectation. Claims, cancels, retries and the recovery sweep are all
//     built on it, so no lock is shared across workers or processes.
//  2. Queue is the caller-facing facade: enqueue, status, cancel, modify
//     and recurring-schedule registration. Opening a queue runs the
//     crash-recovery sweep before any worker can claim.
//  3. Worker claims the best-ranked ready job (priority descending, then
//     run_at, then id), dispatches it to the handler registered for its
//     type, refreshes its heartbeat while it runs and reports the outcome
//     back through the ledger. Exactly one worker ever observes a given
//     job as claimed; exactly-once execution of handler side effects is the
//     handler's own responsibility.
//
// Two ledgers ship with the package tree: store/sqlite persists to a local
// SQLite database, and MemoryLedger here backs tests and local development.
//
// # Usage
//
//	ledger, err := sqlite.Open("jobs.db")
//	if err != nil { ... }
//	q, err := queue.Open(ctx, ledger)
//	if err != nil { ... }
//
//	w, _ := queue.NewWorker(q, queue.WithMaxConcurrency(4))
//	_ = w.Register("send_email", queue.JSONHandler(sendEmail))
//	_ = w.Start(ctx)
//
//	id, _ := q.Enqueue(ctx, "send_email", payload, queue.WithPriority(10))
//
// Handlers may persist progress between retries:
//
//	func resize(ctx context.Context, job *queue.ActiveJob) error {
//	    offset := parse(job.Checkpoint)
//	    for ; offset < total; offset++ {
//	        if job.CancelRequested() {
//	            return errors.New("cancelled")
//	        }
//	        // ... one unit of work ...
//	        if err := job.WriteCheckpoint(ctx, encode(offset)); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	}
package queue
