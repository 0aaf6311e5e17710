// Package sweeper holds the background consistency loops: auto-save, stuck
// loading detection, stuck entity recovery, and the startup phase sweep.
// The periodic ones are driver Managers; each gates on its own interval so
// the driver can tick them all at one cadence.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixil98/go-playerdata/internal/player"
	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-playerdata/internal/session"
)

const (
	DefaultAutoSaveInterval = 5 * time.Minute
	DefaultStuckLoadBound   = 30 * time.Second
	DefaultStuckModeGrace   = 15 * time.Second
)

// AutoSave snapshots and saves every Ready session on a fixed interval.
// Sessions whose combat-logout phase is Processing are left alone; the
// coordinator owns their data.
type AutoSave struct {
	mgr      *player.Manager
	interval time.Duration
	last     time.Time
}

func NewAutoSave(mgr *player.Manager, interval time.Duration) *AutoSave {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	return &AutoSave{mgr: mgr, interval: interval}
}

func (s *AutoSave) Tick(ctx context.Context) error {
	if time.Since(s.last) < s.interval {
		return nil
	}
	s.last = time.Now()

	for _, info := range s.mgr.Registry().List() {
		if info.State != session.StateReady || info.Phase == record.PhaseProcessing {
			continue
		}
		if err := s.mgr.SnapshotAndSave(ctx, info.Identity); err != nil {
			slog.ErrorContext(ctx, "auto-saving player", "identity", info.Identity, "error", err)
		}
	}

	return nil
}

// StuckLoading force-fails sessions that have sat in Loading longer than
// the bound and runs emergency recovery on them.
type StuckLoading struct {
	mgr   *player.Manager
	bound time.Duration
}

func NewStuckLoading(mgr *player.Manager, bound time.Duration) *StuckLoading {
	if bound <= 0 {
		bound = DefaultStuckLoadBound
	}
	return &StuckLoading{mgr: mgr, bound: bound}
}

func (s *StuckLoading) Tick(ctx context.Context) error {
	cutoff := time.Now().Add(-s.bound)

	for _, info := range s.mgr.Registry().List() {
		if info.State != session.StateLoading || !info.StartedAt.Before(cutoff) {
			continue
		}
		slog.WarnContext(ctx, "session stuck loading, forcing recovery",
			"identity", info.Identity, "since", info.StartedAt)
		if err := s.mgr.EmergencyRecover(ctx, info.Identity); err != nil {
			slog.ErrorContext(ctx, "recovering stuck session", "identity", info.Identity, "error", err)
		}
	}

	return nil
}

// StuckMode catches entities whose observable state contradicts their
// session: marked Ready but still under placeholder restrictions. A grace
// delay filters out entities the pipeline is legitimately still finalizing.
type StuckMode struct {
	mgr     *player.Manager
	grace   time.Duration
	suspect map[record.Identity]time.Time
}

func NewStuckMode(mgr *player.Manager, grace time.Duration) *StuckMode {
	if grace <= 0 {
		grace = DefaultStuckModeGrace
	}
	return &StuckMode{
		mgr:     mgr,
		grace:   grace,
		suspect: map[record.Identity]time.Time{},
	}
}

func (s *StuckMode) Tick(ctx context.Context) error {
	now := time.Now()
	seen := map[record.Identity]bool{}

	for _, info := range s.mgr.Registry().List() {
		if info.State != session.StateReady {
			continue
		}
		ent := s.mgr.Registry().Entity(info.Identity)
		if ent == nil || !ent.Restricted() {
			continue
		}

		seen[info.Identity] = true
		first, ok := s.suspect[info.Identity]
		if !ok {
			s.suspect[info.Identity] = now
			continue
		}
		if now.Sub(first) < s.grace {
			continue
		}

		slog.WarnContext(ctx, "ready session stuck in restricted mode, recovering",
			"identity", info.Identity, "since", first)
		delete(s.suspect, info.Identity)
		if err := s.mgr.EmergencyRecover(ctx, info.Identity); err != nil {
			slog.ErrorContext(ctx, "recovering stuck entity", "identity", info.Identity, "error", err)
		}
	}

	// Forget anyone who healed or left.
	for id := range s.suspect {
		if !seen[id] {
			delete(s.suspect, id)
		}
	}

	return nil
}
