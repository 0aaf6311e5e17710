package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-playerdata/internal/storage"
)

// Startup resets persisted Processing phases left over from a prior crash.
// It runs once when the service starts, best-effort: identities the store
// cannot list or heal are logged and skipped. A full guarantee would need a
// store-wide scan on every load, which the per-load stale-phase repair
// already approximates.
type Startup struct {
	store   storage.Storer
	timeout time.Duration
}

func NewStartup(store storage.Storer, timeout time.Duration) *Startup {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Startup{store: store, timeout: timeout}
}

func (s *Startup) Start(ctx context.Context) error {
	s.sweep(ctx)

	<-ctx.Done()
	return nil
}

func (s *Startup) sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.store.IdentitiesInPhase(sctx, record.PhaseProcessing)
	if err != nil {
		slog.ErrorContext(ctx, "listing stuck combat-logout phases", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	slog.WarnContext(ctx, "resetting stuck combat-logout phases from prior run", "count", len(ids))

	for _, id := range ids {
		rec, err := s.store.Find(sctx, id)
		if err != nil || rec == nil {
			slog.ErrorContext(ctx, "fetching record for phase reset", "identity", id, "error", err)
			continue
		}

		rec.Phase = record.PhaseNone
		rec.LastSaveAt = time.Now().UTC()
		if err := s.store.Save(sctx, rec); err != nil {
			slog.ErrorContext(ctx, "persisting phase reset", "identity", id, "error", err)
		}
	}
}
