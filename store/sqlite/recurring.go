package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobq/queue"
)

const scheduleColumns = `id, name, job_type, payload, priority, max_retries,
  cadence, next_run_at, created_at, updated_at`

func scanSchedule(row rowScanner) (*queue.RecurringSchedule, error) {
	var (
		sched     queue.RecurringSchedule
		nextRunAt string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&sched.ID, &sched.Name, &sched.JobType, &sched.Payload,
		&sched.Priority, &sched.MaxRetries, &sched.Cadence,
		&nextRunAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = parseTS(nextRunAt)
	sched.CreatedAt = parseTS(createdAt)
	sched.UpdatedAt = parseTS(updatedAt)
	return &sched, nil
}

func (s *Store) InsertSchedule(ctx context.Context, sched *queue.RecurringSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_schedules (id, name, job_type, payload, priority,
			max_retries, cadence, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Name, sched.JobType, sched.Payload, sched.Priority,
		sched.MaxRetries, sched.Cadence, ts(sched.NextRunAt),
		ts(sched.CreatedAt), ts(sched.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("schedule %q: %w", sched.Name, queue.ErrDuplicateSchedule)
		}
		return storeErr("insert schedule", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*queue.RecurringSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM recurring_schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, queue.ErrScheduleNotFound)
	}
	if err != nil {
		return nil, storeErr("get schedule", err)
	}
	return sched, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]*queue.RecurringSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM recurring_schedules ORDER BY name ASC`)
	if err != nil {
		return nil, storeErr("list schedules", err)
	}
	defer rows.Close()

	var scheds []*queue.RecurringSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("list schedules: scan: %w", err)
		}
		scheds = append(scheds, sched)
	}
	return scheds, rows.Err()
}

func (s *Store) InsertOccurrence(ctx context.Context, job *queue.Job) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs (job_type, payload, priority, run_at, state,
			attempt, max_retries, cancel_requested, recurring_ref, dedup_key,
			last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, '', ?, ?)`,
		job.Type, job.Payload, job.Priority, ts(job.RunAt), string(job.State),
		job.Attempt, job.MaxRetries, nullable(job.RecurringRef),
		nullable(job.DedupKey), ts(job.CreatedAt), ts(job.UpdatedAt))
	if err != nil {
		return 0, false, storeErr("insert occurrence", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert occurrence: rows affected: %w", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("insert occurrence: last insert id: %w", err)
		}
		return id, true, nil
	}

	// an occurrence with this key was already materialized
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE dedup_key = ?`, job.DedupKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("occurrence %q vanished after insert: %w", job.DedupKey, queue.ErrNotFound)
	}
	if err != nil {
		return 0, false, storeErr("insert occurrence", err)
	}
	return id, false, nil
}

func (s *Store) AdvanceSchedule(ctx context.Context, id string, from, to time.Time) error {
	if !to.After(from) {
		return fmt.Errorf("%w: next_run_at may only advance", queue.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurring_schedules SET next_run_at = ?, updated_at = ?
		WHERE id = ? AND next_run_at = ?`,
		ts(to), ts(time.Now()), id, ts(from))
	if err != nil {
		return storeErr("advance schedule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance schedule: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM recurring_schedules WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schedule %s: %w", id, queue.ErrScheduleNotFound)
	}
	if err != nil {
		return storeErr("advance schedule", err)
	}
	return fmt.Errorf("schedule %s already advanced past %s: %w", id, from.Format(time.RFC3339), queue.ErrStateConflict)
}
