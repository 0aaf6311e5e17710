package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixil98/go-playerdata/internal/diag"
	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-testutil"
)

func TestDispatcher_OrderedPerIdentity(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters)
	defer d.Close()

	var mu sync.Mutex
	var order []int

	pendings := make([]*Pending, 0, 50)
	for i := 0; i < 50; i++ {
		i := i
		p, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pendings = append(pendings, p)
	}

	for _, p := range pendings {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, "executed count", len(order), 50)
	for i, got := range order {
		if got != i {
			t.Fatalf("operation %d executed out of order (got %d)", i, got)
		}
	}
}

func TestDispatcher_MutualExclusion(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters)
	defer d.Close()

	var inside, maxInside int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := d.Enqueue(OpUpdateStats, "alice", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err := p.Wait(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, "max concurrent entries", maxInside, 1)
	testutil.AssertEqual(t, "canary violations", counters.CanaryViolations.Load(), uint64(0))
}

func TestDispatcher_IndependentIdentities(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters)
	defer d.Close()

	// Block alice's worker; bob's operation must still run.
	release := make(chan struct{})
	blocked, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := d.Enqueue(OpSave, "bob", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = p.WaitTimeout(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("bob's operation blocked behind alice's: %v", err)
	}

	close(release)
	if err := blocked.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatcher_StaleOperationDropped(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters, WithOpTimeout(50*time.Millisecond))
	defer d.Close()

	// Hold the worker long enough for the queued op to go stale.
	release := make(chan struct{})
	first, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ran := false
	stale, err := d.Enqueue(OpUpdateStats, "alice", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)

	if err := first.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = stale.Wait(context.Background())
	if !errors.Is(err, ErrOperationTimeout) {
		t.Fatalf("expected ErrOperationTimeout, got %v", err)
	}
	testutil.AssertEqual(t, "work ran", ran, false)
	testutil.AssertEqual(t, "op timeouts", counters.OpTimeouts.Load(), uint64(1))
}

func TestDispatcher_QueueFull(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters, WithInboxSize(1))
	defer d.Close()

	release := make(chan struct{})
	defer close(release)

	// First op occupies the worker, second fills the inbox.
	if _, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The worker may have picked up the first op already, so fill until full.
	var err error
	for i := 0; i < 3; i++ {
		_, err = d.Enqueue(OpSave, "alice", func(ctx context.Context) error { return nil })
		if err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestDispatcher_RetireAndRespawn(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters,
		WithIdleTimeout(20*time.Millisecond),
		WithOfflineCheck(func(record.Identity) bool { return true }),
	)
	defer d.Close()

	p, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for d.workerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle worker never retired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Enqueueing again spawns a fresh worker.
	p, err = d.Enqueue(OpSave, "alice", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatcher_OnlineWorkerDoesNotRetire(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters,
		WithIdleTimeout(10*time.Millisecond),
		WithOfflineCheck(func(record.Identity) bool { return false }),
	)
	defer d.Close()

	p, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, "worker count", d.workerCount(), 1)
}

func TestDispatcher_CloseDrainsQueuedWork(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters, WithOfflineCheck(func(record.Identity) bool { return false }))

	var executed atomic.Int32
	pendings := make([]*Pending, 0, 10)
	for i := 0; i < 10; i++ {
		p, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error {
			executed.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pendings = append(pendings, p)
	}

	d.Close()

	testutil.AssertEqual(t, "executed", executed.Load(), int32(10))
	for _, p := range pendings {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	testutil.AssertEqual(t, "workers", d.workerCount(), 0)
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	counters := &diag.Counters{}
	d := NewDispatcher(counters, WithOfflineCheck(func(record.Identity) bool { return true }))
	d.Close()

	_, err := d.Enqueue(OpSave, "alice", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestOpKind_Exclusive(t *testing.T) {
	tests := map[string]struct {
		kind OpKind
		exp  bool
	}{
		"save":                   {kind: OpSave, exp: true},
		"update-inventory":       {kind: OpUpdateInventory, exp: true},
		"update-stats":           {kind: OpUpdateStats, exp: true},
		"update-location":        {kind: OpUpdateLocation, exp: true},
		"combat-logout-start":    {kind: OpCombatLogoutStart, exp: true},
		"combat-logout-complete": {kind: OpCombatLogoutComplete, exp: true},
		"validate":               {kind: OpValidate, exp: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, "exclusive", tc.kind.exclusive(), tc.exp)
		})
	}
}
