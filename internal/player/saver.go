package player

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-playerdata/internal/session"
)

// GuaranteedSave persists a connected identity's record with the full
// retry-and-fallback treatment.
func (m *Manager) GuaranteedSave(ctx context.Context, id record.Identity) error {
	rec := m.registry.Record(id)
	if rec == nil {
		return fmt.Errorf("saving %s: %w", id, session.ErrSessionNotFound)
	}
	return m.guaranteedSave(ctx, id, rec)
}

// guaranteedSave runs the save coordinator: a queued Save operation awaited
// with a per-attempt timeout, retried with exponential backoff, and after
// exhaustion a detached best-effort save so the caller is never blocked
// indefinitely and the record is never dropped without one last attempt.
func (m *Manager) guaranteedSave(ctx context.Context, id record.Identity, rec *record.Record) error {
	backoff := m.saveBackoff
	var lastErr error

attempts:
	for attempt := 1; attempt <= m.saveAttempts; attempt++ {
		p, err := m.ops.Enqueue(session.OpSave, id, func(opCtx context.Context) error {
			rec.LastSaveAt = time.Now().UTC()
			sctx, cancel := context.WithTimeout(opCtx, m.saveAttemptTimeout)
			defer cancel()
			return m.store.Save(sctx, rec)
		})
		if err != nil {
			lastErr = err
		} else {
			lastErr = p.WaitTimeout(ctx, m.saveAttemptTimeout)
			if lastErr == nil {
				return nil
			}
		}

		slog.WarnContext(ctx, "save attempt failed",
			"identity", id, "attempt", attempt, "of", m.saveAttempts, "error", lastErr)

		if attempt < m.saveAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			}
			backoff *= 2
		}
	}

	m.counters.SaveFailures.Add(1)
	m.publish(SubjectSaveFailed, id)
	go m.detachedSave(rec)

	return fmt.Errorf("%w for %s: %v", ErrSaveFailed, id, lastErr)
}

// detachedSave is the fire-and-forget last resort. If this fails too the
// data is gone, which is the one outcome that must be impossible to miss in
// the logs.
func (m *Manager) detachedSave(rec *record.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), m.saveAttemptTimeout)
	defer cancel()

	rec.LastSaveAt = time.Now().UTC()
	if err := m.store.Save(ctx, rec); err != nil {
		m.counters.DetachedSaveFailures.Add(1)
		slog.Error("DETACHED SAVE FAILED, PLAYER DATA MAY BE LOST",
			"identity", rec.Identity, "error", err)
	}
}
