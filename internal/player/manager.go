package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pixil98/go-playerdata/internal/combatlog"
	"github.com/pixil98/go-playerdata/internal/diag"
	"github.com/pixil98/go-playerdata/internal/entity"
	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-playerdata/internal/session"
	"github.com/pixil98/go-playerdata/internal/storage"
)

const (
	DefaultFetchTimeout       = 10 * time.Second
	DefaultLoadTimeout        = 30 * time.Second
	DefaultSnapshotTimeout    = 5 * time.Second
	DefaultSaveAttempts       = 3
	DefaultSaveAttemptTimeout = 10 * time.Second
	DefaultSaveBackoff        = 500 * time.Millisecond
)

var (
	ErrShuttingDown  = errors.New("service is shutting down")
	ErrSaveFailed    = errors.New("save retries exhausted")
	ErrRecordMissing = errors.New("no persisted record for identity")
)

// Publisher pushes lifecycle events onto the bus. Nil is allowed; events are
// then dropped.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Manager owns the connected players' mutable state: it drives the loading
// pipeline on connect, the snapshot-and-save path on disconnect, and every
// queued mutation in between. All record access funnels through the
// per-identity dispatcher.
type Manager struct {
	registry  *session.Registry
	ops       *session.Dispatcher
	store     storage.Storer
	finalizer combatlog.Finalizer
	pub       Publisher
	counters  *diag.Counters

	defaultSpawn record.Location

	fetchTimeout       time.Duration
	loadTimeout        time.Duration
	snapshotTimeout    time.Duration
	saveAttempts       int
	saveAttemptTimeout time.Duration
	saveBackoff        time.Duration

	closed atomic.Bool
}

type ManagerOpt func(*Manager)

func WithDefaultSpawn(loc record.Location) ManagerOpt {
	return func(m *Manager) {
		m.defaultSpawn = loc
	}
}

func WithFetchTimeout(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.fetchTimeout = d
	}
}

func WithLoadTimeout(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.loadTimeout = d
	}
}

func WithSnapshotTimeout(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.snapshotTimeout = d
	}
}

func WithSaveAttempts(n int) ManagerOpt {
	return func(m *Manager) {
		m.saveAttempts = n
	}
}

func WithSaveAttemptTimeout(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.saveAttemptTimeout = d
	}
}

func WithSaveBackoff(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.saveBackoff = d
	}
}

func WithPublisher(pub Publisher) ManagerOpt {
	return func(m *Manager) {
		m.pub = pub
	}
}

func WithFinalizer(f combatlog.Finalizer) ManagerOpt {
	return func(m *Manager) {
		m.finalizer = f
	}
}

func NewManager(registry *session.Registry, ops *session.Dispatcher, store storage.Storer, counters *diag.Counters, opts ...ManagerOpt) *Manager {
	m := &Manager{
		registry:           registry,
		ops:                ops,
		store:              store,
		counters:           counters,
		defaultSpawn:       record.Location{World: "world"},
		fetchTimeout:       DefaultFetchTimeout,
		loadTimeout:        DefaultLoadTimeout,
		snapshotTimeout:    DefaultSnapshotTimeout,
		saveAttempts:       DefaultSaveAttempts,
		saveAttemptTimeout: DefaultSaveAttemptTimeout,
		saveBackoff:        DefaultSaveBackoff,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start blocks until the service shuts down, then stops accepting new
// connections and drains the per-identity queues.
func (m *Manager) Start(ctx context.Context) error {
	<-ctx.Done()

	m.Close()
	m.ops.Close()
	return nil
}

// Registry exposes the session registry for sweepers and the console.
func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Counters exposes the diagnostics counters read-only.
func (m *Manager) Counters() *diag.Counters {
	return m.counters
}

// Connect begins a session for a freshly connected entity and kicks off the
// loading pipeline. The pipeline runs on its own goroutine; the caller gets
// an error only for immediate rejections (duplicate session, shutdown).
func (m *Manager) Connect(ctx context.Context, ent entity.Entity) error {
	if m.closed.Load() {
		return ErrShuttingDown
	}

	id := ent.Identity()
	sess, err := m.registry.Begin(id, ent)
	if err != nil {
		return fmt.Errorf("beginning session for %s: %w", id, err)
	}

	m.counters.Joins.Add(1)
	slog.InfoContext(ctx, "player connecting", "identity", id)

	go m.load(ctx, sess, ent)
	return nil
}

// Disconnect persists and removes an identity's session. Idempotent: a
// second disconnect for the same identity is a no-op.
func (m *Manager) Disconnect(ctx context.Context, id record.Identity) error {
	sess := m.registry.Get(id)
	if sess == nil {
		return nil
	}

	rec := m.registry.Record(id)
	ent := m.registry.Entity(id)

	if rec != nil {
		// Snapshot through the queue so the phase check happens under the
		// write lock; the closures no-op if the combat-logout coordinator
		// owns the data.
		if ent != nil {
			m.snapshot(ctx, id, rec, ent)
		}

		if err := m.guaranteedSave(ctx, id, rec); err != nil {
			slog.ErrorContext(ctx, "saving player on disconnect", "identity", id, "error", err)
		}
	}

	m.registry.DetachEntity(id)
	m.registry.Remove(id)
	m.counters.Quits.Add(1)
	slog.InfoContext(ctx, "player disconnected", "identity", id)

	return nil
}

// snapshot copies the live entity's inventory, location, and stats onto the
// record via queued write operations, then waits for them with a bound.
func (m *Manager) snapshot(ctx context.Context, id record.Identity, rec *record.Record, ent entity.Entity) {
	invOp, err := m.ops.Enqueue(session.OpUpdateInventory, id, func(context.Context) error {
		if rec.Phase.Suppressed() {
			return nil
		}
		rec.Inventory = ent.SnapshotInventory()
		rec.Location = ent.Location()
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "enqueueing inventory snapshot", "identity", id, "error", err)
	}

	statsOp, err := m.ops.Enqueue(session.OpUpdateStats, id, func(context.Context) error {
		if rec.Phase.Suppressed() {
			return nil
		}
		rec.Stats = ent.SnapshotStats()
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "enqueueing stats snapshot", "identity", id, "error", err)
	}

	for _, p := range []*session.Pending{invOp, statsOp} {
		if p == nil {
			continue
		}
		if err := p.WaitTimeout(ctx, m.snapshotTimeout); err != nil {
			slog.WarnContext(ctx, "waiting for snapshot", "identity", id, "error", err)
		}
	}
}

// SnapshotAndSave snapshots a connected identity and runs a guaranteed
// save. Used by the auto-save sweep and the admin console.
func (m *Manager) SnapshotAndSave(ctx context.Context, id record.Identity) error {
	rec := m.registry.Record(id)
	if rec == nil {
		return fmt.Errorf("snapshotting %s: %w", id, session.ErrSessionNotFound)
	}

	if ent := m.registry.Entity(id); ent != nil {
		m.snapshot(ctx, id, rec, ent)
	}

	return m.guaranteedSave(ctx, id, rec)
}

// UpdateLocation records a new location for a connected identity.
func (m *Manager) UpdateLocation(ctx context.Context, id record.Identity, loc record.Location) error {
	rec := m.registry.Record(id)
	if rec == nil {
		return fmt.Errorf("updating location for %s: %w", id, session.ErrSessionNotFound)
	}

	p, err := m.ops.Enqueue(session.OpUpdateLocation, id, func(context.Context) error {
		if rec.Phase.Suppressed() {
			return nil
		}
		rec.Location = loc
		return nil
	})
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// BeginCombatLogout flips the identity's phase to Processing and persists
// it. From then on ordinary snapshots are suppressed until the coordinator
// completes or the phase goes stale.
func (m *Manager) BeginCombatLogout(ctx context.Context, id record.Identity) error {
	rec := m.registry.Record(id)
	if rec == nil {
		return fmt.Errorf("beginning combat logout for %s: %w", id, session.ErrSessionNotFound)
	}

	p, err := m.ops.Enqueue(session.OpCombatLogoutStart, id, func(context.Context) error {
		rec.Phase = record.PhaseProcessing
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.Wait(ctx); err != nil {
		return err
	}

	m.counters.CombatLogouts.Add(1)
	return m.guaranteedSave(ctx, id, rec)
}

// CompleteCombatLogout is called by the coordinator once it has resolved the
// logout. The provided inventory, stats, and location replace whatever the
// record holds, and the phase moves to Processed so the next rejoin runs the
// finalize hook. Works whether or not the identity is still connected.
func (m *Manager) CompleteCombatLogout(ctx context.Context, id record.Identity, inv []record.ItemStack, stats record.Stats, loc record.Location) error {
	live := m.registry.Record(id)

	p, err := m.ops.Enqueue(session.OpCombatLogoutComplete, id, func(opCtx context.Context) error {
		rec := live
		if rec == nil {
			fctx, cancel := context.WithTimeout(opCtx, m.fetchTimeout)
			defer cancel()
			var ferr error
			rec, ferr = m.store.Find(fctx, id)
			if ferr != nil {
				return fmt.Errorf("fetching record: %w", ferr)
			}
			if rec == nil {
				return fmt.Errorf("completing combat logout for %s: %w", id, ErrRecordMissing)
			}
		}

		rec.Inventory = inv
		rec.Stats = stats
		rec.Location = loc
		rec.Phase = record.PhaseProcessed

		if live == nil {
			rec.LastSaveAt = time.Now().UTC()
			sctx, cancel := context.WithTimeout(opCtx, m.saveAttemptTimeout)
			defer cancel()
			return m.store.Save(sctx, rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.Wait(ctx); err != nil {
		return err
	}

	if live != nil {
		return m.guaranteedSave(ctx, id, live)
	}
	return nil
}

// Validate runs a read-only consistency check over a connected identity.
func (m *Manager) Validate(ctx context.Context, id record.Identity) error {
	rec := m.registry.Record(id)
	if rec == nil {
		return fmt.Errorf("validating %s: %w", id, session.ErrSessionNotFound)
	}

	p, err := m.ops.Enqueue(session.OpValidate, id, func(context.Context) error {
		if rec.Identity != id {
			return fmt.Errorf("record identity %s does not match session %s", rec.Identity, id)
		}
		return rec.Validate()
	})
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// Close rejects new connections. In-flight work is owned by the dispatcher
// and the sweepers, which the service runtime winds down separately.
func (m *Manager) Close() {
	m.closed.Store(true)
}

func (m *Manager) publish(subject string, id record.Identity) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(subject, []byte(id)); err != nil {
		slog.Warn("publishing lifecycle event", "subject", subject, "identity", id, "error", err)
	}
}
