package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixil98/go-playerdata/internal/entity"
	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-playerdata/internal/session"
)

// Lifecycle event subjects published on the bus.
const (
	SubjectSessionReady  = "playerdata.session.ready"
	SubjectSessionFailed = "playerdata.session.failed"
	SubjectSaveFailed    = "playerdata.save.failed"
)

// load runs the full pipeline under the load watchdog. However it ends, the
// session reaches Ready: either through the normal path or through
// emergency recovery. A connected identity is never left stuck.
func (m *Manager) load(ctx context.Context, sess *session.Session, ent entity.Entity) {
	id := sess.Identity()

	result := make(chan error, 1)
	go func() {
		result <- m.runPipeline(ctx, id, ent)
	}()

	watchdog := time.NewTimer(m.loadTimeout)
	defer watchdog.Stop()

	select {
	case err := <-result:
		if err == nil {
			m.counters.LoadsOk.Add(1)
			m.publish(SubjectSessionReady, id)
			slog.InfoContext(ctx, "player loaded", "identity", id)
			return
		}
		if errors.Is(err, session.ErrBadTransition) {
			// A sweeper already force-failed and recovered the session.
			slog.WarnContext(ctx, "load superseded", "identity", id, "error", err)
			return
		}
		m.counters.LoadsFailed.Add(1)
		slog.ErrorContext(ctx, "loading player", "identity", id, "error", err)

	case <-watchdog.C:
		m.counters.LoadsFailed.Add(1)
		slog.ErrorContext(ctx, "load watchdog expired", "identity", id, "timeout", m.loadTimeout)
	}

	if err := m.registry.SetFailed(id); err != nil {
		slog.WarnContext(ctx, "marking session failed", "identity", id, "error", err)
	}
	m.emergencyRecover(ctx, id, ent)
}

// runPipeline performs the load steps in order. Every failure that can be
// degraded locally is; anything returned here sends the session to
// emergency recovery.
func (m *Manager) runPipeline(ctx context.Context, id record.Identity, ent entity.Entity) error {
	// No half-loaded state is exploitable behind the placeholder.
	ent.ApplyPlaceholder()

	fctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	rec, err := m.store.Find(fctx, id)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching record: %w", err)
	}

	// A slow fetch can outlive the load watchdog. Once the session has left
	// Loading, recovery owns it; this pipeline must leave no trace.
	if err := m.ownsLoad(id); err != nil {
		return err
	}

	fresh := rec == nil
	if fresh {
		rec = record.NewDefault(id, m.defaultSpawn)
		if err := m.guaranteedSave(ctx, id, rec); err != nil {
			return fmt.Errorf("persisting default record: %w", err)
		}
	}

	// A Processing phase on a freshly fetched record is residue from a
	// crash; nothing is processing it anymore.
	if rec.HealStalePhase(time.Now(), record.StalePhaseBound) {
		m.counters.StalePhaseRepairs.Add(1)
		slog.WarnContext(ctx, "reset stale combat-logout phase", "identity", id)
		if err := m.guaranteedSave(ctx, id, rec); err != nil {
			slog.ErrorContext(ctx, "persisting phase repair", "identity", id, "error", err)
		}
	}

	if rec.Phase == record.PhaseProcessed {
		m.finalizeRejoin(ctx, id, rec)
	}

	// The saves and the finalize hook above can stall too; re-check before
	// touching the entity.
	if err := m.ownsLoad(id); err != nil {
		return err
	}

	m.applyRecord(ctx, rec, ent)

	ent.ClearPlaceholder()
	if err := ent.Teleport(rec.Location); err != nil {
		slog.ErrorContext(ctx, "teleporting to saved location", "identity", id, "error", err)
		if err := ent.Teleport(m.defaultSpawn); err != nil {
			return fmt.Errorf("teleporting to default spawn: %w", err)
		}
		rec.Location = m.defaultSpawn
	}

	return m.registry.SetReadyFromLoading(id, rec)
}

// ownsLoad confirms the session is still Loading, i.e. the watchdog has not
// handed it to emergency recovery.
func (m *Manager) ownsLoad(id record.Identity) error {
	if m.registry.State(id) != session.StateLoading {
		return fmt.Errorf("load for %s superseded: %w", id, session.ErrBadTransition)
	}
	return nil
}

// finalizeRejoin runs the combat-logout coordinator's finalize hook for a
// record left in Processed, takes its location, and completes the phase.
func (m *Manager) finalizeRejoin(ctx context.Context, id record.Identity, rec *record.Record) {
	if m.finalizer != nil {
		loc, err := m.finalizer.FinalizeRejoin(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "finalizing combat-logout rejoin", "identity", id, "error", err)
		} else {
			rec.Location = loc
		}
	}

	rec.Phase = record.PhaseCompleted
	m.counters.CombatLogouts.Add(1)
	if err := m.guaranteedSave(ctx, id, rec); err != nil {
		slog.ErrorContext(ctx, "persisting completed phase", "identity", id, "error", err)
	}
}

// applyRecord writes the record onto the live entity. Each field falls back
// to its default independently; one bad field must not abort the others.
func (m *Manager) applyRecord(ctx context.Context, rec *record.Record, ent entity.Entity) {
	id := rec.Identity

	if err := ent.ApplyInventory(rec.Inventory); err != nil {
		slog.ErrorContext(ctx, "applying inventory, clearing", "identity", id, "error", err)
		if err := ent.ApplyInventory(nil); err != nil {
			slog.ErrorContext(ctx, "clearing inventory", "identity", id, "error", err)
		}
	}

	if err := ent.ApplyStats(rec.Stats); err != nil {
		slog.ErrorContext(ctx, "applying stats, using defaults", "identity", id, "error", err)
		if err := ent.ApplyStats(record.NewDefault(id, m.defaultSpawn).Stats); err != nil {
			slog.ErrorContext(ctx, "applying default stats", "identity", id, "error", err)
		}
	}

	if err := ent.ApplyGameMode(rec.Stats.GameMode); err != nil {
		slog.ErrorContext(ctx, "applying game mode, using survival", "identity", id, "error", err)
		if err := ent.ApplyGameMode("survival"); err != nil {
			slog.ErrorContext(ctx, "applying default game mode", "identity", id, "error", err)
		}
	}
}

// emergencyRecover puts a session into a safe, usable state after the
// pipeline failed or timed out: safe defaults on the entity, a fresh default
// record, an asynchronous persist, and a Ready session.
func (m *Manager) emergencyRecover(ctx context.Context, id record.Identity, ent entity.Entity) {
	// A disconnect can win the race against the watchdog. Over a remote
	// provider every entity call below is a bus round-trip; don't spend
	// them on a session that is already gone.
	if m.registry.Offline(id) {
		slog.WarnContext(ctx, "skipping recovery for disconnected identity", "identity", id)
		return
	}

	m.counters.EmergencyRecoveries.Add(1)
	slog.WarnContext(ctx, "running emergency recovery", "identity", id)

	rec := record.NewDefault(id, m.defaultSpawn)

	m.applyRecord(ctx, rec, ent)
	ent.ClearPlaceholder()
	if err := ent.Teleport(m.defaultSpawn); err != nil {
		slog.ErrorContext(ctx, "teleporting to default spawn", "identity", id, "error", err)
	}

	if err := m.registry.SetReady(id, rec); err != nil {
		// The session vanished mid-recovery (disconnect won the race).
		slog.WarnContext(ctx, "marking recovered session ready", "identity", id, "error", err)
		return
	}

	go m.detachedSave(rec)
	m.publish(SubjectSessionFailed, id)
}

// EmergencyRecover force-fails a stuck session and recovers it. Used by the
// background sweepers.
func (m *Manager) EmergencyRecover(ctx context.Context, id record.Identity) error {
	ent := m.registry.Entity(id)
	if ent == nil {
		return fmt.Errorf("recovering %s: %w", id, session.ErrSessionNotFound)
	}

	if m.registry.State(id) == session.StateLoading {
		if err := m.registry.SetFailed(id); err != nil {
			return fmt.Errorf("force-failing %s: %w", id, err)
		}
	}

	m.emergencyRecover(ctx, id, ent)
	return nil
}
