package driver

import "time"

type SweepDriverOpt func(*SweepDriver)

func WithTickLength(tickLength time.Duration) SweepDriverOpt {
	return func(d *SweepDriver) {
		d.tickLength = tickLength
	}
}
