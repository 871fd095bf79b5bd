package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger for tests and local development. It
// provides the same guarded-transition semantics as the durable adapters,
// with a mutex standing in for store transactions.
type MemoryLedger struct {
	mu        sync.Mutex
	nextID    int64
	jobs      map[int64]*Job
	dedup     map[string]int64
	schedules map[string]*RecurringSchedule
	names     map[string]string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		jobs:      make(map[int64]*Job),
		dedup:     make(map[string]int64),
		schedules: make(map[string]*RecurringSchedule),
		names:     make(map[string]string),
	}
}

func (m *MemoryLedger) InsertJob(_ context.Context, job *Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(job)
}

func (m *MemoryLedger) insertLocked(job *Job) (int64, error) {
	m.nextID++
	clone := *job
	clone.ID = m.nextID
	m.jobs[clone.ID] = &clone
	if clone.DedupKey != "" {
		m.dedup[clone.DedupKey] = clone.ID
	}
	job.ID = clone.ID
	return clone.ID, nil
}

func (m *MemoryLedger) GetJob(_ context.Context, id int64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	clone := *job
	return &clone, nil
}

func (m *MemoryLedger) GetJobByDedupKey(_ context.Context, key string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.dedup[key]
	if !ok {
		return nil, fmt.Errorf("occurrence %q: %w", key, ErrNotFound)
	}
	clone := *m.jobs[id]
	return &clone, nil
}

func (m *MemoryLedger) WriteCheckpoint(_ context.Context, id int64, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	job.Checkpoint = append([]byte(nil), blob...)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) Transition(_ context.Context, id int64, expected, next JobState, upd TransitionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if job.State != expected {
		return fmt.Errorf("job %d is %s, expected %s: %w", id, job.State, expected, ErrStateConflict)
	}
	if !ValidTransition(expected, next) {
		return fmt.Errorf("no edge %s -> %s: %w", expected, next, ErrStateConflict)
	}

	job.State = next
	if upd.RunAt != nil {
		job.RunAt = *upd.RunAt
	}
	if upd.Attempt != nil {
		job.Attempt = *upd.Attempt
	}
	if upd.Heartbeat != nil {
		job.HeartbeatAt = *upd.Heartbeat
	} else if next == StatePending {
		// back to pending: drop the liveness stamp and any stale cancel
		// intent; cancelling again is a plain pending cancel
		job.HeartbeatAt = time.Time{}
		job.CancelRequested = false
	}
	if upd.LastError != nil {
		job.LastError = *upd.LastError
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) ClaimNext(_ context.Context, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Job
	for _, job := range m.jobs {
		if job.State != StatePending || job.RunAt.After(now) {
			continue
		}
		if best == nil || claimsBefore(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = StateRunning
	best.Attempt++
	best.HeartbeatAt = now
	best.UpdatedAt = now
	clone := *best
	return &clone, nil
}

// claimsBefore is the claim ranking: priority descending, run_at ascending,
// id ascending.
func claimsBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.ID < b.ID
}

func (m *MemoryLedger) Heartbeat(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if job.State == StateRunning {
		job.HeartbeatAt = now
		job.UpdatedAt = now
	}
	return job.CancelRequested, nil
}

func (m *MemoryLedger) CancelIfPending(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	switch job.State {
	case StatePending:
		job.State = StateCancelled
		job.UpdatedAt = now
		return nil
	case StateRunning:
		job.CancelRequested = true
		job.UpdatedAt = now
	}
	return fmt.Errorf("job %d is %s: %w", id, job.State, ErrNotPending)
}

func (m *MemoryLedger) ModifyIfPending(_ context.Context, id int64, mod Modification, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if job.State != StatePending {
		return fmt.Errorf("job %d is %s: %w", id, job.State, ErrNotPending)
	}

	if mod.Payload != nil {
		job.Payload = append([]byte(nil), mod.Payload...)
	}
	if mod.Priority != nil {
		job.Priority = *mod.Priority
	}
	if mod.RunAt != nil {
		job.RunAt = *mod.RunAt
	}
	if mod.MaxRetries != nil {
		job.MaxRetries = *mod.MaxRetries
	}
	job.UpdatedAt = now
	return nil
}

func (m *MemoryLedger) ListOrphaned(_ context.Context, cutoff time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for _, job := range m.jobs {
		if job.State == StateRunning && job.HeartbeatAt.Before(cutoff) {
			ids = append(ids, job.ID)
		}
	}
	return ids, nil
}

func (m *MemoryLedger) RequeueOrphan(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if job.State != StateRunning {
		return fmt.Errorf("job %d is %s: %w", id, job.State, ErrStateConflict)
	}

	job.State = StatePending
	job.RunAt = now
	// Refund the interrupted attempt: the process died, the handler did not
	// exhaust a retry.
	if job.Attempt > 0 {
		job.Attempt--
	}
	job.HeartbeatAt = time.Time{}
	job.CancelRequested = false
	job.UpdatedAt = now
	return nil
}

func (m *MemoryLedger) ListJobs(_ context.Context, state JobState, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*Job
	// Iterate in id order for deterministic output.
	for id := int64(1); id <= m.nextID; id++ {
		job, ok := m.jobs[id]
		if !ok || (state != "" && job.State != state) {
			continue
		}
		clone := *job
		jobs = append(jobs, &clone)
		if limit > 0 && len(jobs) >= limit {
			break
		}
	}
	return jobs, nil
}

func (m *MemoryLedger) CountByState(_ context.Context) (map[JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[JobState]int)
	for _, job := range m.jobs {
		counts[job.State]++
	}
	return counts, nil
}

func (m *MemoryLedger) InsertSchedule(_ context.Context, s *RecurringSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.names[s.Name]; exists {
		return fmt.Errorf("schedule %q: %w", s.Name, ErrDuplicateSchedule)
	}
	clone := *s
	m.schedules[s.ID] = &clone
	m.names[s.Name] = s.ID
	return nil
}

func (m *MemoryLedger) GetSchedule(_ context.Context, id string) (*RecurringSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrScheduleNotFound)
	}
	clone := *s
	return &clone, nil
}

func (m *MemoryLedger) ListSchedules(_ context.Context) ([]*RecurringSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	schedules := make([]*RecurringSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		clone := *s
		schedules = append(schedules, &clone)
	}
	return schedules, nil
}

func (m *MemoryLedger) InsertOccurrence(_ context.Context, job *Job) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.DedupKey == "" {
		return 0, false, fmt.Errorf("%w: occurrence requires a dedup key", ErrValidation)
	}
	if id, exists := m.dedup[job.DedupKey]; exists {
		return id, false, nil
	}
	id, err := m.insertLocked(job)
	return id, err == nil, err
}

func (m *MemoryLedger) AdvanceSchedule(_ context.Context, id string, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, ErrScheduleNotFound)
	}
	if !s.NextRunAt.Equal(from) {
		return fmt.Errorf("schedule %s moved concurrently: %w", id, ErrStateConflict)
	}
	if !to.After(from) {
		return fmt.Errorf("%w: next_run_at may only advance", ErrValidation)
	}
	s.NextRunAt = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) Close() error {
	return nil
}
