package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobq/queue"
)

// seedRunning plants a job as a dead process would have left it: running,
// with a heartbeat of the given age.
func seedRunning(t *testing.T, ledger *queue.MemoryLedger, claimedAt time.Time) int64 {
	t.Helper()

	ctx := context.Background()
	job := &queue.Job{
		Type:       "batch",
		State:      queue.StatePending,
		RunAt:      claimedAt,
		MaxRetries: 2,
		CreatedAt:  claimedAt,
		UpdatedAt:  claimedAt,
	}
	id, err := ledger.InsertJob(ctx, job)
	require.NoError(t, err)
	claimed, err := ledger.ClaimNext(ctx, claimedAt)
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)
	return id
}

func TestRecoveryRequeuesOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := queue.NewMemoryLedger()

	orphan := seedRunning(t, ledger, now.Add(-time.Hour))
	healthy := seedRunning(t, ledger, now.Add(-time.Minute))

	q, err := queue.Open(ctx, ledger,
		queue.WithClock(func() time.Time { return now }),
		queue.WithLivenessThreshold(5*time.Minute))
	require.NoError(t, err)
	defer q.Close()

	job, err := ledger.GetJob(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, job.State)
	assert.Equal(t, now, job.RunAt, "orphan becomes immediately eligible")
	assert.Equal(t, 0, job.Attempt, "interrupted attempt does not consume the budget")

	job, err = ledger.GetJob(ctx, healthy)
	require.NoError(t, err)
	assert.Equal(t, queue.StateRunning, job.State, "live jobs are left alone")
	assert.Equal(t, 1, job.Attempt)
}

func seedSchedule(t *testing.T, ledger *queue.MemoryLedger, nextRunAt time.Time) *queue.RecurringSchedule {
	t.Helper()

	s := &queue.RecurringSchedule{
		ID:         "sched-1",
		Name:       "report",
		JobType:    "report",
		MaxRetries: 2,
		Cadence:    "every 1h",
		NextRunAt:  nextRunAt,
		CreatedAt:  nextRunAt.Add(-time.Hour),
		UpdatedAt:  nextRunAt.Add(-time.Hour),
	}
	require.NoError(t, ledger.InsertSchedule(context.Background(), s))
	return s
}

func occurrenceFor(t *testing.T, ledger *queue.MemoryLedger, s *queue.RecurringSchedule, runAt time.Time) *queue.Job {
	t.Helper()

	jobs, err := ledger.ListJobs(context.Background(), "", 0)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.RecurringRef == s.ID && j.RunAt.Equal(runAt) {
			return j
		}
	}
	return nil
}

func TestRecoveryHealsSchedules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	slot := now.Add(-30 * time.Minute)

	open := func(t *testing.T, ledger *queue.MemoryLedger) {
		t.Helper()
		q, err := queue.Open(ctx, ledger, queue.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		t.Cleanup(func() { q.Close() })
	}

	t.Run("missing occurrence is enqueued", func(t *testing.T) {
		t.Parallel()
		ledger := queue.NewMemoryLedger()
		s := seedSchedule(t, ledger, slot)

		open(t, ledger)

		occ := occurrenceFor(t, ledger, s, slot)
		require.NotNil(t, occ)
		assert.Equal(t, queue.StatePending, occ.State)

		// schedule itself is untouched
		after, err := ledger.GetSchedule(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, after.NextRunAt.Equal(slot))
	})

	t.Run("enqueued-but-not-advanced is advanced", func(t *testing.T) {
		t.Parallel()
		ledger := queue.NewMemoryLedger()
		s := seedSchedule(t, ledger, slot)

		// both the current slot and its successor exist, next_run_at lagging
		for _, at := range []time.Time{slot, slot.Add(time.Hour)} {
			_, _, err := ledger.InsertOccurrence(ctx, &queue.Job{
				Type:         s.JobType,
				State:        queue.StatePending,
				RunAt:        at,
				RecurringRef: s.ID,
				DedupKey:     queue.OccurrenceKey(s.ID, at),
			})
			require.NoError(t, err)
		}

		open(t, ledger)

		after, err := ledger.GetSchedule(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, after.NextRunAt.Equal(slot.Add(time.Hour)))

		jobs, err := ledger.ListJobs(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, jobs, 2, "no duplicate occurrence was created")
	})

	t.Run("terminal occurrence whose followup never ran", func(t *testing.T) {
		t.Parallel()
		ledger := queue.NewMemoryLedger()
		s := seedSchedule(t, ledger, slot)

		id, _, err := ledger.InsertOccurrence(ctx, &queue.Job{
			Type:         s.JobType,
			State:        queue.StatePending,
			RunAt:        slot,
			MaxRetries:   2,
			RecurringRef: s.ID,
			DedupKey:     queue.OccurrenceKey(s.ID, slot),
		})
		require.NoError(t, err)
		claimed, err := ledger.ClaimNext(ctx, slot)
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)
		require.NoError(t, ledger.Transition(ctx, id, queue.StateRunning, queue.StateSucceeded, queue.TransitionUpdate{}))

		open(t, ledger)

		next := slot.Add(time.Hour)
		occ := occurrenceFor(t, ledger, s, next)
		require.NotNil(t, occ, "successor was enqueued")
		assert.Equal(t, queue.StatePending, occ.State)

		after, err := ledger.GetSchedule(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, after.NextRunAt.Equal(next))
	})

	t.Run("in-flight occurrence is left alone", func(t *testing.T) {
		t.Parallel()
		ledger := queue.NewMemoryLedger()
		s := seedSchedule(t, ledger, slot)

		_, _, err := ledger.InsertOccurrence(ctx, &queue.Job{
			Type:         s.JobType,
			State:        queue.StatePending,
			RunAt:        slot,
			RecurringRef: s.ID,
			DedupKey:     queue.OccurrenceKey(s.ID, slot),
		})
		require.NoError(t, err)

		open(t, ledger)

		jobs, err := ledger.ListJobs(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)

		after, err := ledger.GetSchedule(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, after.NextRunAt.Equal(slot))
	})
}

