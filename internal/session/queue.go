package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pixil98/go-playerdata/internal/diag"
	"github.com/pixil98/go-playerdata/internal/record"
)

const (
	DefaultOpTimeout   = 30 * time.Second
	DefaultIdleTimeout = 60 * time.Second
	DefaultInboxSize   = 64
)

var (
	ErrOperationTimeout = errors.New("operation timed out in queue")
	ErrQueueFull        = errors.New("operation queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// OpKind classifies a queued operation and decides which identity lock it
// takes.
type OpKind int

const (
	OpSave OpKind = iota
	OpUpdateInventory
	OpUpdateStats
	OpUpdateLocation
	OpCombatLogoutStart
	OpCombatLogoutComplete
	OpValidate
)

func (k OpKind) String() string {
	switch k {
	case OpSave:
		return "save"
	case OpUpdateInventory:
		return "update-inventory"
	case OpUpdateStats:
		return "update-stats"
	case OpUpdateLocation:
		return "update-location"
	case OpCombatLogoutStart:
		return "combat-logout-start"
	case OpCombatLogoutComplete:
		return "combat-logout-complete"
	case OpValidate:
		return "validate"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// exclusive reports whether the kind mutates the record and therefore takes
// the identity's write lock. Everything else takes the read lock.
func (k OpKind) exclusive() bool {
	switch k {
	case OpSave, OpUpdateInventory, OpUpdateStats, OpUpdateLocation,
		OpCombatLogoutStart, OpCombatLogoutComplete:
		return true
	default:
		return false
	}
}

// Operation is one queued unit of work targeting a single identity.
type Operation struct {
	id        uuid.UUID
	kind      OpKind
	identity  record.Identity
	work      func(context.Context) error
	createdAt time.Time
	done      chan error
}

func (o *Operation) finish(err error) {
	o.done <- err
	close(o.done)
}

// Pending is the completion handle returned by Enqueue.
type Pending struct {
	op *Operation
}

// Wait blocks until the operation completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case err := <-p.op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. The operation is not cancelled on
// timeout; its result is discarded.
func (p *Pending) WaitTimeout(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return p.Wait(ctx)
}

// OfflineFunc reports whether an identity currently has no session. Idle
// workers retire only once this returns true, so a connected identity keeps
// its worker (and its locks) alive.
type OfflineFunc func(record.Identity) bool

// Dispatcher owns one worker per active identity. Operations for the same
// identity execute strictly in submission order on that identity's worker;
// nothing executes two operations for one identity at once. Workers spawn on
// first enqueue and retire when their inbox is empty, they have been idle
// for a while, and the identity is offline. Spawn, enqueue, and retire all
// happen under one mutex, which closes the teardown-vs-late-enqueue race.
type Dispatcher struct {
	mu      sync.Mutex
	workers map[record.Identity]*worker
	closed  bool
	done    chan struct{}

	opTimeout   time.Duration
	idleTimeout time.Duration
	inboxSize   int
	offline     OfflineFunc

	counters *diag.Counters
	wg       sync.WaitGroup
}

type DispatcherOpt func(*Dispatcher)

func WithOpTimeout(d time.Duration) DispatcherOpt {
	return func(dp *Dispatcher) {
		dp.opTimeout = d
	}
}

func WithIdleTimeout(d time.Duration) DispatcherOpt {
	return func(dp *Dispatcher) {
		dp.idleTimeout = d
	}
}

func WithInboxSize(n int) DispatcherOpt {
	return func(dp *Dispatcher) {
		dp.inboxSize = n
	}
}

func WithOfflineCheck(fn OfflineFunc) DispatcherOpt {
	return func(dp *Dispatcher) {
		dp.offline = fn
	}
}

func NewDispatcher(counters *diag.Counters, opts ...DispatcherOpt) *Dispatcher {
	d := &Dispatcher{
		workers:     map[record.Identity]*worker{},
		done:        make(chan struct{}),
		opTimeout:   DefaultOpTimeout,
		idleTimeout: DefaultIdleTimeout,
		inboxSize:   DefaultInboxSize,
		counters:    counters,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Enqueue submits work for an identity and returns its completion handle.
func (d *Dispatcher) Enqueue(kind OpKind, id record.Identity, work func(context.Context) error) (*Pending, error) {
	op := &Operation{
		id:        uuid.New(),
		kind:      kind,
		identity:  id,
		work:      work,
		createdAt: time.Now(),
		done:      make(chan error, 1),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDispatcherClosed
	}

	w, ok := d.workers[id]
	if !ok {
		w = &worker{
			identity: id,
			inbox:    make(chan *Operation, d.inboxSize),
			d:        d,
		}
		d.workers[id] = w
		d.wg.Add(1)
		go w.run()
	}

	select {
	case w.inbox <- op:
	default:
		return nil, fmt.Errorf("%w: %s for %s", ErrQueueFull, kind, id)
	}

	return &Pending{op: op}, nil
}

// Close stops accepting operations and waits for all workers to drain their
// inboxes and exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// retire removes an idle worker. Returns false if new work arrived or the
// identity still has a session; the worker keeps running in that case.
func (d *Dispatcher) retire(w *worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(w.inbox) > 0 {
		return false
	}
	if !d.closed && d.offline != nil && !d.offline(w.identity) {
		return false
	}

	delete(d.workers, w.identity)
	return true
}

// workerCount returns the number of live workers. Diagnostics only.
func (d *Dispatcher) workerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// worker drains one identity's operation queue sequentially.
type worker struct {
	identity record.Identity
	inbox    chan *Operation
	d        *Dispatcher

	// lock is the per-identity read/write lock. The single worker already
	// serializes operations; the lock backs the entries canary and keeps
	// the write-kind contract explicit.
	lock    sync.RWMutex
	entries atomic.Int32
}

func (w *worker) run() {
	defer w.d.wg.Done()

	idle := time.NewTimer(w.d.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case op := <-w.inbox:
			w.execute(op)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(w.d.idleTimeout)

		case <-idle.C:
			if w.d.retire(w) {
				return
			}
			idle.Reset(w.d.idleTimeout)

		case <-w.d.done:
			// Shutdown: finish what is already queued, then exit.
			for {
				select {
				case op := <-w.inbox:
					w.execute(op)
				default:
					w.d.retire(w)
					return
				}
			}
		}
	}
}

func (w *worker) execute(op *Operation) {
	age := time.Since(op.createdAt)
	if age > w.d.opTimeout {
		w.d.counters.OpTimeouts.Add(1)
		slog.Warn("dropping stale operation",
			"identity", op.identity, "kind", op.kind.String(), "age", age, "op", op.id)
		op.finish(fmt.Errorf("%w: %s aged %s", ErrOperationTimeout, op.kind, age.Round(time.Millisecond)))
		return
	}

	if op.kind.exclusive() {
		w.lock.Lock()
		defer w.lock.Unlock()
	} else {
		w.lock.RLock()
		defer w.lock.RUnlock()
	}

	// Canary: the single-worker model makes concurrent entry impossible.
	// Count it rather than trust it.
	if w.entries.Add(1) > 1 {
		w.d.counters.CanaryViolations.Add(1)
		slog.Error("concurrent operation entry detected",
			"identity", op.identity, "kind", op.kind.String())
	}
	defer w.entries.Add(-1)

	op.finish(op.work(context.Background()))
}
