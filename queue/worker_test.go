package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobq/queue"
)

const (
	testPoll = 10 * time.Millisecond
	waitFor  = 5 * time.Second
	tick     = 5 * time.Millisecond
)

// openWorkerQueue uses the real clock and near-instant retries so jobs flow
// end to end within the test timeout.
func openWorkerQueue(t *testing.T) (*queue.Queue, *queue.MemoryLedger) {
	t.Helper()

	ledger := queue.NewMemoryLedger()
	q, err := queue.Open(context.Background(), ledger,
		queue.WithRetryPolicy(queue.RetryPolicy{BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, ledger
}

func startWorker(t *testing.T, q *queue.Queue, jobType string, h queue.Handler, opts ...queue.WorkerOption) *queue.Worker {
	t.Helper()

	w, err := queue.NewWorker(q, append([]queue.WorkerOption{queue.WithPollInterval(testPoll)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, w.Register(jobType, h))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForState(t *testing.T, ledger *queue.MemoryLedger, id int64, want queue.JobState) *queue.Job {
	t.Helper()

	var job *queue.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = ledger.GetJob(context.Background(), id)
		return err == nil && job.State == want
	}, waitFor, tick, "job %d never reached %s", id, want)
	return job
}

func TestWorkerRunsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	var got atomic.Value
	startWorker(t, q, "email", queue.JSONHandler(func(_ context.Context, _ *queue.ActiveJob, p map[string]string) error {
		got.Store(p["to"])
		return nil
	}))

	id, err := q.Enqueue(ctx, "email", []byte(`{"to":"a@b.c"}`))
	require.NoError(t, err)

	job := waitForState(t, ledger, id, queue.StateSucceeded)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, "a@b.c", got.Load())
}

func TestWorkerRetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	var runs atomic.Int32
	startWorker(t, q, "flaky", func(context.Context, *queue.ActiveJob) error {
		runs.Add(1)
		return errors.New("smtp down")
	})

	id, err := q.Enqueue(ctx, "flaky", nil, queue.WithMaxRetries(2))
	require.NoError(t, err)

	job := waitForState(t, ledger, id, queue.StateFailed)
	// max_retries = 2 means exactly 3 executions
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, int32(3), runs.Load())
	assert.Equal(t, "smtp down", job.LastError)
}

func TestWorkerSucceedsOnRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	var runs atomic.Int32
	startWorker(t, q, "flaky", func(context.Context, *queue.ActiveJob) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	id, err := q.Enqueue(ctx, "flaky", nil, queue.WithMaxRetries(2))
	require.NoError(t, err)

	job := waitForState(t, ledger, id, queue.StateSucceeded)
	assert.Equal(t, 2, job.Attempt)
}

func TestWorkerUnhandledType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	startWorker(t, q, "email", func(context.Context, *queue.ActiveJob) error { return nil })

	id, err := q.Enqueue(ctx, "mystery", nil)
	require.NoError(t, err)

	job := waitForState(t, ledger, id, queue.StateFailed)
	assert.Contains(t, job.LastError, "no handler registered")
	assert.Contains(t, job.LastError, "mystery")
}

func TestWorkerPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	startWorker(t, q, "volatile", func(context.Context, *queue.ActiveJob) error {
		panic("nope")
	})

	id, err := q.Enqueue(ctx, "volatile", nil, queue.WithMaxRetries(0))
	require.NoError(t, err)

	job := waitForState(t, ledger, id, queue.StateFailed)
	assert.Contains(t, job.LastError, "panic in handler")
	assert.Contains(t, job.LastError, "nope")
}

func TestWorkerCheckpointSurvivesRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	var sawCheckpoint atomic.Value
	startWorker(t, q, "batch", func(ctx context.Context, job *queue.ActiveJob) error {
		if len(job.Checkpoint) == 0 {
			if err := job.WriteCheckpoint(ctx, []byte(`{"cursor":50}`)); err != nil {
				return err
			}
			return errors.New("crash after halfway")
		}
		sawCheckpoint.Store(string(job.Checkpoint))
		return nil
	})

	id, err := q.Enqueue(ctx, "batch", nil, queue.WithMaxRetries(2))
	require.NoError(t, err)

	waitForState(t, ledger, id, queue.StateSucceeded)
	assert.JSONEq(t, `{"cursor":50}`, sawCheckpoint.Load().(string))
}

func TestWorkerConcurrencyBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	release := make(chan struct{})
	startWorker(t, q, "slow", func(context.Context, *queue.ActiveJob) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		return nil
	}, queue.WithMaxConcurrency(2))

	var ids []int64
	for i := 0; i < 6; i++ {
		id, err := q.Enqueue(ctx, "slow", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		return inFlight.Load() == 2
	}, waitFor, tick)
	close(release)

	for _, id := range ids {
		waitForState(t, ledger, id, queue.StateSucceeded)
	}
	assert.Equal(t, int32(2), peak.Load(), "no more than two jobs at once")
}

func TestWorkerStopWaitsForInflight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	started := make(chan struct{})
	release := make(chan struct{})
	w, err := queue.NewWorker(q, queue.WithPollInterval(testPoll))
	require.NoError(t, err)
	require.NoError(t, w.Register("slow", func(context.Context, *queue.ActiveJob) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, w.Start(context.Background()))

	id, err := q.Enqueue(ctx, "slow", nil)
	require.NoError(t, err)
	w.Poke()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)

	// the in-flight job finished and its outcome was recorded
	job, err := ledger.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateSucceeded, job.State)
}

func TestWorkerCooperativeCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	running := make(chan struct{})
	var observedCancel atomic.Bool
	startWorker(t, q, "loop", func(ctx context.Context, job *queue.ActiveJob) error {
		close(running)
		for !job.CancelRequested() {
			if err := job.Heartbeat(ctx); err != nil {
				return err
			}
			time.Sleep(tick)
		}
		observedCancel.Store(true)
		return nil
	})

	id, err := q.Enqueue(ctx, "loop", nil)
	require.NoError(t, err)
	<-running

	// the claim already won; cancel degrades to a cooperative request
	err = q.Cancel(ctx, id)
	assert.ErrorIs(t, err, queue.ErrNotPending)

	waitForState(t, ledger, id, queue.StateSucceeded)
	assert.True(t, observedCancel.Load())
}

func TestWorkerAdvancesRecurrence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, ledger := openWorkerQueue(t)

	var runs atomic.Int32
	startWorker(t, q, "tick", func(context.Context, *queue.ActiveJob) error {
		runs.Add(1)
		return nil
	})

	schedID, err := q.RegisterRecurring(ctx, "ticker", "tick", nil, "every 20ms")
	require.NoError(t, err)

	before, err := ledger.GetSchedule(ctx, schedID)
	require.NoError(t, err)

	// a few occurrences complete and each one pre-enqueues its successor
	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, waitFor, tick)

	after, err := ledger.GetSchedule(ctx, schedID)
	require.NoError(t, err)
	assert.True(t, after.NextRunAt.After(before.NextRunAt), "schedule advanced")

	jobs, err := ledger.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	pending := 0
	for _, j := range jobs {
		require.Equal(t, schedID, j.RecurringRef)
		require.NotEmpty(t, j.DedupKey)
		if j.State == queue.StatePending {
			pending++
		}
	}
	assert.GreaterOrEqual(t, pending, 1, "the next occurrence is always queued")
}

func TestWorkerValidation(t *testing.T) {
	t.Parallel()

	q, _ := openWorkerQueue(t)

	_, err := queue.NewWorker(nil)
	assert.ErrorIs(t, err, queue.ErrValidation)

	w, err := queue.NewWorker(q)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Register("", func(context.Context, *queue.ActiveJob) error { return nil }), queue.ErrValidation)
	assert.ErrorIs(t, w.Register("email", nil), queue.ErrValidation)

	// starting without handlers is refused
	assert.ErrorIs(t, w.Start(context.Background()), queue.ErrValidation)

	require.NoError(t, w.Register("email", func(context.Context, *queue.ActiveJob) error { return nil }))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	assert.Error(t, w.Start(context.Background()), "second start is refused")
}
