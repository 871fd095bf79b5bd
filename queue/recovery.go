package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// recover runs once at Open, before any worker claims: requeue jobs orphaned
// by a dead process and heal half-finished recurrence steps. Each repair is
// its own transaction, so a crash during the sweep leaves nothing stuck.
func (q *Queue) recover(ctx context.Context) error {
	now := q.now().UTC()
	cutoff := now.Add(-q.liveness)

	orphans, err := q.ledger.ListOrphaned(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}
	for _, id := range orphans {
		if err := q.ledger.RequeueOrphan(ctx, id, now); err != nil {
			// Lost a race against a concurrent sweep or a late heartbeat;
			// the row is in good hands either way.
			if errors.Is(err, ErrStateConflict) {
				continue
			}
			return fmt.Errorf("requeue orphaned job %d: %w", id, err)
		}
		q.logger.Warn("requeued orphaned job", slog.Int64("job_id", id))
	}
	if len(orphans) > 0 {
		q.logger.Info("recovery sweep finished", slog.Int("orphans", len(orphans)))
	}

	schedules, err := q.ledger.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}
	for _, s := range schedules {
		if err := q.healSchedule(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
