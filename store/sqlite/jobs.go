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

const jobColumns = `j.id, j.job_type, j.payload, j.priority, j.run_at, j.state,
  j.attempt, j.max_retries, j.heartbeat_at, j.cancel_requested,
  j.recurring_ref, j.dedup_key, j.last_error, j.created_at, j.updated_at,
  c.data`

const jobFrom = `FROM jobs j LEFT JOIN checkpoints c ON c.job_id = j.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var (
		j           queue.Job
		payload     []byte
		runAt       string
		heartbeatAt sql.NullString
		cancelReq   int
		recurring   sql.NullString
		dedup       sql.NullString
		lastErr     sql.NullString
		createdAt   string
		updatedAt   string
		checkpoint  []byte
	)
	err := row.Scan(&j.ID, &j.Type, &payload, &j.Priority, &runAt, &j.State,
		&j.Attempt, &j.MaxRetries, &heartbeatAt, &cancelReq,
		&recurring, &dedup, &lastErr, &createdAt, &updatedAt,
		&checkpoint)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.RunAt = parseTS(runAt)
	if heartbeatAt.Valid {
		j.HeartbeatAt = parseTS(heartbeatAt.String)
	}
	j.CancelRequested = cancelReq != 0
	j.RecurringRef = recurring.String
	j.DedupKey = dedup.String
	j.LastError = lastErr.String
	j.CreatedAt = parseTS(createdAt)
	j.UpdatedAt = parseTS(updatedAt)
	j.Checkpoint = checkpoint
	return &j, nil
}

// nullable turns "" into NULL so the dedup_key UNIQUE index only sees real
// keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) InsertJob(ctx context.Context, job *queue.Job) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_type, payload, priority, run_at, state, attempt,
			max_retries, cancel_requested, recurring_ref, dedup_key, last_error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, '', ?, ?)`,
		job.Type, job.Payload, job.Priority, ts(job.RunAt), string(job.State),
		job.Attempt, job.MaxRetries, nullable(job.RecurringRef),
		nullable(job.DedupKey), ts(job.CreatedAt), ts(job.UpdatedAt))
	if err != nil {
		return 0, storeErr("insert job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert job: last insert id: %w", err)
	}
	return id, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` `+jobFrom+` WHERE j.id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return j, nil
}

func (s *Store) GetJobByDedupKey(ctx context.Context, key string) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` `+jobFrom+` WHERE j.dedup_key = ?`, key)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dedup key %q: %w", key, queue.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get job by dedup key", err)
	}
	return j, nil
}

func (s *Store) WriteCheckpoint(ctx context.Context, id int64, blob []byte) error {
	now := ts(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (job_id, data, updated_at)
		SELECT id, ?, ? FROM jobs WHERE id = ?
		ON CONFLICT(job_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		blob, now, id)
	if err != nil {
		return storeErr("write checkpoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write checkpoint: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, id int64, expected, next queue.JobState, upd queue.TransitionUpdate) error {
	if !queue.ValidTransition(expected, next) {
		return fmt.Errorf("transition %s -> %s: %w", expected, next, queue.ErrStateConflict)
	}

	sets := []string{"state = ?", "updated_at = ?"}
	args := []any{string(next), ts(time.Now())}
	if upd.RunAt != nil {
		sets = append(sets, "run_at = ?")
		args = append(args, ts(*upd.RunAt))
	}
	if upd.Attempt != nil {
		sets = append(sets, "attempt = ?")
		args = append(args, *upd.Attempt)
	}
	if upd.Heartbeat != nil {
		sets = append(sets, "heartbeat_at = ?")
		args = append(args, ts(*upd.Heartbeat))
	} else if next == queue.StatePending {
		// a job going back to pending sheds its liveness stamp and any stale
		// cancel intent; cancelling it again is a plain pending cancel
		sets = append(sets, "heartbeat_at = NULL", "cancel_requested = 0")
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *upd.LastError)
	}
	args = append(args, id, string(expected))

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND state = ?`,
		args...)
	if err != nil {
		return storeErr("transition job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job: rows affected: %w", err)
	}
	if n == 0 {
		return s.transitionConflict(ctx, id, expected)
	}
	return nil
}

// transitionConflict distinguishes a missing row from one whose state moved
// under the caller.
func (s *Store) transitionConflict(ctx context.Context, id int64, expected queue.JobState) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	if err != nil {
		return storeErr("transition job", err)
	}
	return fmt.Errorf("job %d is %s, not %s: %w", id, current, expected, queue.ErrStateConflict)
}

func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*queue.Job, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storeErr("claim: begin tx", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE state = ? AND run_at <= ?
		ORDER BY priority DESC, run_at ASC, id ASC
		LIMIT 1`,
		string(queue.StatePending), ts(now)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("claim: select candidate", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, attempt = attempt + 1, heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(queue.StateRunning), ts(now), ts(now), id, string(queue.StatePending))
	if err != nil {
		return nil, storeErr("claim: mark running", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim: rows affected: %w", err)
	}
	if n != 1 {
		// another claimer won the row between select and update
		return nil, nil
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` `+jobFrom+` WHERE j.id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, storeErr("claim: reload job", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("claim: commit", err)
	}
	return j, nil
}

func (s *Store) Heartbeat(ctx context.Context, id int64, now time.Time) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		ts(now), ts(now), id, string(queue.StateRunning))
	if err != nil {
		return false, storeErr("heartbeat", err)
	}

	var cancelReq int
	err = s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&cancelReq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	if err != nil {
		return false, storeErr("heartbeat", err)
	}
	return cancelReq != 0, nil
}

func (s *Store) CancelIfPending(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(queue.StateCancelled), ts(now), id, string(queue.StatePending))
	if err != nil {
		return storeErr("cancel job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel job: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	if err != nil {
		return storeErr("cancel job", err)
	}
	if current == string(queue.StateRunning) {
		// too late to cancel outright; raise the cooperative flag so the
		// handler can notice on its next heartbeat
		if _, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET cancel_requested = 1, updated_at = ?
			WHERE id = ? AND state = ?`,
			ts(now), id, string(queue.StateRunning)); err != nil {
			return storeErr("cancel job", err)
		}
	}
	return fmt.Errorf("job %d is %s: %w", id, current, queue.ErrNotPending)
}

func (s *Store) ModifyIfPending(ctx context.Context, id int64, mod queue.Modification, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{ts(now)}
	if mod.Payload != nil {
		sets = append(sets, "payload = ?")
		args = append(args, mod.Payload)
	}
	if mod.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *mod.Priority)
	}
	if mod.RunAt != nil {
		sets = append(sets, "run_at = ?")
		args = append(args, ts(*mod.RunAt))
	}
	if mod.MaxRetries != nil {
		sets = append(sets, "max_retries = ?")
		args = append(args, *mod.MaxRetries)
	}
	args = append(args, id, string(queue.StatePending))

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND state = ?`,
		args...)
	if err != nil {
		return storeErr("modify job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("modify job: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %d: %w", id, queue.ErrNotFound)
	}
	if err != nil {
		return storeErr("modify job", err)
	}
	return fmt.Errorf("job %d is %s: %w", id, current, queue.ErrNotPending)
}

func (s *Store) ListOrphaned(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE state = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)
		ORDER BY id ASC`,
		string(queue.StateRunning), ts(cutoff))
	if err != nil {
		return nil, storeErr("list orphaned", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list orphaned: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) RequeueOrphan(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, run_at = ?,
			attempt = CASE WHEN attempt > 0 THEN attempt - 1 ELSE 0 END,
			heartbeat_at = NULL, cancel_requested = 0, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(queue.StatePending), ts(now), ts(now), id, string(queue.StateRunning))
	if err != nil {
		return storeErr("requeue orphan", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue orphan: rows affected: %w", err)
	}
	if n == 0 {
		return s.transitionConflict(ctx, id, queue.StateRunning)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context, state queue.JobState, limit int) ([]*queue.Job, error) {
	q := `SELECT ` + jobColumns + ` ` + jobFrom
	var args []any
	if state != "" {
		q += ` WHERE j.state = ?`
		args = append(args, string(state))
	}
	q += ` ORDER BY j.id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) CountByState(ctx context.Context) (map[queue.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, storeErr("count by state", err)
	}
	defer rows.Close()

	counts := make(map[queue.JobState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count by state: scan: %w", err)
		}
		counts[queue.JobState(state)] = n
	}
	return counts, rows.Err()
}
