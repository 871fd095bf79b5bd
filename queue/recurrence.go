package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// occurrenceKey is the idempotency key of one cadence slot. Jobs are never
// deleted by the core, so the key's presence is a durable record that the
// slot was enqueued. Full nanosecond precision keeps sub-second cadence
// slots distinct.
func occurrenceKey(scheduleID string, runAt time.Time) string {
	return fmt.Sprintf("%s@%d", scheduleID, runAt.UTC().UnixNano())
}

// insertOccurrence materializes the schedule's occurrence for runAt. A
// duplicate key makes the insert a no-op, which is exactly what a replay
// after a crash needs.
func (q *Queue) insertOccurrence(ctx context.Context, s *RecurringSchedule, runAt time.Time) (int64, bool, error) {
	now := q.now().UTC()
	job := &Job{
		Type:         s.JobType,
		Payload:      s.Payload,
		Priority:     s.Priority,
		State:        StatePending,
		RunAt:        runAt,
		MaxRetries:   s.MaxRetries,
		RecurringRef: s.ID,
		DedupKey:     occurrenceKey(s.ID, runAt),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return q.ledger.InsertOccurrence(ctx, job)
}

// advanceRecurrence runs after an occurrence reaches a terminal state:
// compute the next slot relative to the schedule's next_run_at (not the
// completion time, so the cadence never drifts), enqueue it, then advance
// next_run_at. Enqueue-then-advance order means a crash in between leaves a
// duplicate insert attempt for the startup heal, never a skipped slot.
func (q *Queue) advanceRecurrence(ctx context.Context, scheduleID string) error {
	s, err := q.ledger.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	cadence, err := q.parseCadence(s.Cadence)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.Name, err)
	}

	next := cadence.Next(s.NextRunAt)
	if _, inserted, err := q.insertOccurrence(ctx, s, next); err != nil {
		return fmt.Errorf("enqueue occurrence of %q: %w", s.Name, err)
	} else if !inserted {
		// Another advance of the same slot got here first.
		q.logger.Debug("occurrence already enqueued",
			slog.String("schedule_id", s.ID),
			slog.Time("run_at", next))
	}
	if err := q.ledger.AdvanceSchedule(ctx, s.ID, s.NextRunAt, next); err != nil {
		// A concurrent advance already moved the schedule forward; the
		// occurrence insert above was deduplicated.
		if errors.Is(err, ErrStateConflict) {
			return nil
		}
		return fmt.Errorf("advance schedule %q: %w", s.Name, err)
	}

	q.logger.Debug("recurrence advanced",
		slog.String("schedule_id", s.ID),
		slog.String("name", s.Name),
		slog.Time("next_run_at", next))
	return nil
}

// healSchedule repairs a schedule whose enqueue/advance step was interrupted
// by a crash. Three cases, checked in order:
//
//  1. The occurrence for next_run_at was never enqueued (crash between
//     schedule insert and first enqueue): enqueue it.
//  2. The occurrence for the following slot already exists (crash between
//     enqueue and advance): only advance.
//  3. The occurrence for next_run_at is terminal but its completion never
//     ran the recurrence step: enqueue the next slot and advance.
func (q *Queue) healSchedule(ctx context.Context, s *RecurringSchedule) error {
	cadence, err := q.parseCadence(s.Cadence)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.Name, err)
	}

	current, err := q.ledger.GetJobByDedupKey(ctx, occurrenceKey(s.ID, s.NextRunAt))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current == nil {
		_, _, err := q.insertOccurrence(ctx, s, s.NextRunAt)
		if err != nil {
			return fmt.Errorf("heal schedule %q: %w", s.Name, err)
		}
		q.logger.Warn("recovered missing occurrence",
			slog.String("schedule_id", s.ID),
			slog.String("name", s.Name),
			slog.Time("run_at", s.NextRunAt))
		return nil
	}

	next := cadence.Next(s.NextRunAt)
	successor, err := q.ledger.GetJobByDedupKey(ctx, occurrenceKey(s.ID, next))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	switch {
	case successor != nil:
		// Enqueued but never advanced.
	case current.State.Terminal():
		if _, _, err := q.insertOccurrence(ctx, s, next); err != nil {
			return fmt.Errorf("heal schedule %q: %w", s.Name, err)
		}
	default:
		// Occurrence still in flight; nothing to heal.
		return nil
	}

	if err := q.ledger.AdvanceSchedule(ctx, s.ID, s.NextRunAt, next); err != nil && !errors.Is(err, ErrStateConflict) {
		return fmt.Errorf("heal schedule %q: %w", s.Name, err)
	}
	q.logger.Warn("recovered interrupted recurrence step",
		slog.String("schedule_id", s.ID),
		slog.String("name", s.Name),
		slog.Time("next_run_at", next))
	return nil
}
