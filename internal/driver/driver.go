package driver

import (
	"context"
	"time"
)

const (
	DefaultTickLength = time.Second
)

// Manager is anything the driver ticks: the background sweepers. Each
// manager gates on its own interval, so the driver cadence just sets the
// resolution.
type Manager interface {
	Tick(context.Context) error
}

type SweepDriver struct {
	tickLength time.Duration
	managers   []Manager
}

func NewSweepDriver(managers []Manager, opts ...SweepDriverOpt) *SweepDriver {
	d := &SweepDriver{
		tickLength: DefaultTickLength,
		managers:   managers,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *SweepDriver) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.tickLength)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := d.Tick(ctx)
			if err != nil {
				return err
			}
		}
	}
}

func (d *SweepDriver) Tick(ctx context.Context) error {
	for _, m := range d.managers {
		if err := m.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}
