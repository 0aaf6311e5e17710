package driver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingManager struct {
	ticks atomic.Int32
}

func (m *countingManager) Tick(ctx context.Context) error {
	m.ticks.Add(1)
	return nil
}

func TestSweepDriver_TicksManagers(t *testing.T) {
	m1 := &countingManager{}
	m2 := &countingManager{}
	d := NewSweepDriver([]Manager{m1, m2}, WithTickLength(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m1.ticks.Load() < 2 || m2.ticks.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("managers never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
