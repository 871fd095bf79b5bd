package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobq/queue"
)

func seedJob(t *testing.T, m *queue.MemoryLedger, mut func(*queue.Job)) int64 {
	t.Helper()

	now := time.Now().UTC()
	job := &queue.Job{
		Type:  "test",
		State: queue.StatePending,
		// Backdated so the job is already due at any `now` a test captured
		// before calling this helper.
		RunAt:      now.Add(-time.Second),
		MaxRetries: 2,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if mut != nil {
		mut(job)
	}
	id, err := m.InsertJob(context.Background(), job)
	require.NoError(t, err)
	return id
}

func TestMemoryLedgerClaimRanking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()

	low := seedJob(t, m, func(j *queue.Job) { j.Priority = 1 })
	high := seedJob(t, m, func(j *queue.Job) { j.Priority = 5 })
	earlierHigh := seedJob(t, m, func(j *queue.Job) {
		j.Priority = 5
		j.RunAt = now.Add(-time.Minute)
	})
	seedJob(t, m, func(j *queue.Job) { j.RunAt = now.Add(time.Hour) })

	var order []int64
	for {
		job, err := m.ClaimNext(ctx, now)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}

	// priority desc, then run_at asc, then id asc; the future job stays put
	assert.Equal(t, []int64{earlierHigh, high, low}, order)
}

func TestMemoryLedgerFutureJobBecomesClaimable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()
	id := seedJob(t, m, func(j *queue.Job) { j.RunAt = now.Add(time.Hour) })

	job, err := m.ClaimNext(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job, "run_at in the future is withheld")

	// once the clock passes run_at the same job is handed out
	job, err = m.ClaimNext(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func TestMemoryLedgerClaimMarksRunning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()
	id := seedJob(t, m, nil)

	job, err := m.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, queue.StateRunning, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, now, job.HeartbeatAt)

	// the same job cannot be claimed twice
	again, err := m.ClaimNext(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryLedgerConcurrentClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		seedJob(t, m, nil)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := m.ClaimNext(ctx, now)
				if !assert.NoError(t, err) || job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %d claimed more than once", id)
	}
}

func TestMemoryLedgerTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("guard rejects a stale expectation", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)

		err := m.Transition(ctx, id, queue.StateRunning, queue.StateSucceeded, queue.TransitionUpdate{})
		assert.ErrorIs(t, err, queue.ErrStateConflict)
	})

	t.Run("rejects edges outside the lifecycle", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)

		err := m.Transition(ctx, id, queue.StatePending, queue.StateSucceeded, queue.TransitionUpdate{})
		assert.ErrorIs(t, err, queue.ErrStateConflict)
	})

	t.Run("missing job", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()

		err := m.Transition(ctx, 42, queue.StatePending, queue.StateRunning, queue.TransitionUpdate{})
		assert.ErrorIs(t, err, queue.ErrNotFound)
	})

	t.Run("applies field updates atomically", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)
		_, err := m.ClaimNext(ctx, now)
		require.NoError(t, err)

		runAt := now.Add(time.Minute)
		msg := "boom"
		err = m.Transition(ctx, id, queue.StateRunning, queue.StatePending, queue.TransitionUpdate{
			RunAt:     &runAt,
			LastError: &msg,
		})
		require.NoError(t, err)

		job, err := m.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatePending, job.State)
		assert.Equal(t, runAt, job.RunAt)
		assert.Equal(t, "boom", job.LastError)
	})

	t.Run("requeue to pending sheds heartbeat and cancel intent", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)
		_, err := m.ClaimNext(ctx, now)
		require.NoError(t, err)

		// cancel while running only flags the attempt
		require.ErrorIs(t, m.CancelIfPending(ctx, id, now), queue.ErrNotPending)

		runAt := now.Add(time.Minute)
		err = m.Transition(ctx, id, queue.StateRunning, queue.StatePending, queue.TransitionUpdate{
			RunAt: &runAt,
		})
		require.NoError(t, err)

		job, err := m.GetJob(ctx, id)
		require.NoError(t, err)
		assert.True(t, job.HeartbeatAt.IsZero())
		assert.False(t, job.CancelRequested, "a retried attempt starts without stale cancel intent")
	})
}

func TestMemoryLedgerCancelIfPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("pending is cancelled outright", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)

		require.NoError(t, m.CancelIfPending(ctx, id, now))

		job, err := m.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StateCancelled, job.State)
	})

	t.Run("running gets the cooperative flag", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)
		_, err := m.ClaimNext(ctx, now)
		require.NoError(t, err)

		err = m.CancelIfPending(ctx, id, now)
		assert.ErrorIs(t, err, queue.ErrNotPending)

		cancelled, err := m.Heartbeat(ctx, id, now)
		require.NoError(t, err)
		assert.True(t, cancelled)
	})

	t.Run("terminal states are untouched", func(t *testing.T) {
		t.Parallel()
		m := queue.NewMemoryLedger()
		id := seedJob(t, m, nil)
		_, err := m.ClaimNext(ctx, now)
		require.NoError(t, err)
		require.NoError(t, m.Transition(ctx, id, queue.StateRunning, queue.StateSucceeded, queue.TransitionUpdate{}))

		err = m.CancelIfPending(ctx, id, now)
		assert.ErrorIs(t, err, queue.ErrNotPending)

		job, err := m.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StateSucceeded, job.State)
		assert.False(t, job.CancelRequested)
	})
}

func TestMemoryLedgerModifyIfPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()
	id := seedJob(t, m, nil)

	prio := 7
	runAt := now.Add(time.Hour)
	require.NoError(t, m.ModifyIfPending(ctx, id, queue.Modification{
		Payload:  []byte(`{"n":2}`),
		Priority: &prio,
		RunAt:    &runAt,
	}, now))

	job, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, job.Priority)
	assert.Equal(t, runAt, job.RunAt)
	assert.JSONEq(t, `{"n":2}`, string(job.Payload))

	// once claimed, modification is refused
	_, err = m.ClaimNext(ctx, runAt)
	require.NoError(t, err)
	err = m.ModifyIfPending(ctx, id, queue.Modification{Priority: &prio}, now)
	assert.ErrorIs(t, err, queue.ErrNotPending)
}

func TestMemoryLedgerOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()

	stale := seedJob(t, m, func(j *queue.Job) { j.RunAt = now.Add(-2 * time.Hour) })
	_, err := m.ClaimNext(ctx, now.Add(-time.Hour))
	require.NoError(t, err)

	fresh := seedJob(t, m, nil)
	_, err = m.ClaimNext(ctx, now)
	require.NoError(t, err)

	ids, err := m.ListOrphaned(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{stale}, ids)

	require.NoError(t, m.RequeueOrphan(ctx, stale, now))

	job, err := m.GetJob(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, job.State)
	assert.Equal(t, 0, job.Attempt, "interrupted attempt is refunded")
	assert.Equal(t, now, job.RunAt)
	assert.True(t, job.HeartbeatAt.IsZero())

	// already back to pending, a second requeue loses the guard
	err = m.RequeueOrphan(ctx, stale, now)
	assert.ErrorIs(t, err, queue.ErrStateConflict)
	_ = fresh
}

func TestMemoryLedgerCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	id := seedJob(t, m, nil)

	require.NoError(t, m.WriteCheckpoint(ctx, id, []byte(`{"cursor":10}`)))
	require.NoError(t, m.WriteCheckpoint(ctx, id, []byte(`{"cursor":20}`)))

	job, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":20}`, string(job.Checkpoint))

	err = m.WriteCheckpoint(ctx, 99, []byte("x"))
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestMemoryLedgerOccurrenceDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()

	occ := &queue.Job{
		Type:     "report",
		State:    queue.StatePending,
		RunAt:    now,
		DedupKey: "sched-1@1234",
	}
	id, inserted, err := m.InsertOccurrence(ctx, occ)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &queue.Job{Type: "report", State: queue.StatePending, RunAt: now, DedupKey: "sched-1@1234"}
	dupID, inserted, err := m.InsertOccurrence(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, dupID)

	found, err := m.GetJobByDedupKey(ctx, "sched-1@1234")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func TestMemoryLedgerAdvanceSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := queue.NewMemoryLedger()
	now := time.Now().UTC()

	s := &queue.RecurringSchedule{ID: "sched-1", Name: "nightly", JobType: "report", NextRunAt: now}
	require.NoError(t, m.InsertSchedule(ctx, s))

	err := m.InsertSchedule(ctx, &queue.RecurringSchedule{ID: "sched-2", Name: "nightly"})
	assert.ErrorIs(t, err, queue.ErrDuplicateSchedule)

	next := now.Add(time.Hour)
	require.NoError(t, m.AdvanceSchedule(ctx, "sched-1", now, next))

	// a second advance from the same base loses the guard
	err = m.AdvanceSchedule(ctx, "sched-1", now, next.Add(time.Hour))
	assert.ErrorIs(t, err, queue.ErrStateConflict)

	err = m.AdvanceSchedule(ctx, "missing", now, next)
	assert.ErrorIs(t, err, queue.ErrScheduleNotFound)
}
