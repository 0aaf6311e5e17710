package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-playerdata/internal/driver"
	"github.com/pixil98/go-playerdata/internal/player"
	"github.com/pixil98/go-playerdata/internal/sweeper"
)

type SweepConfig struct {
	AutoSaveInterval string `json:"auto_save_interval,omitempty"`
	StuckLoadBound   string `json:"stuck_load_bound,omitempty"`
	StuckModeGrace   string `json:"stuck_mode_grace,omitempty"`
}

func (c *SweepConfig) Validate() error {
	el := errors.NewErrorList()

	for name, val := range map[string]string{
		"auto_save_interval": c.AutoSaveInterval,
		"stuck_load_bound":   c.StuckLoadBound,
		"stuck_mode_grace":   c.StuckModeGrace,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			el.Add(fmt.Errorf("parsing %s: %w", name, err))
		}
	}

	return el.Err()
}

func (c *SweepConfig) BuildSweepers(mgr *player.Manager) []driver.Manager {
	autoSave, _ := duration(c.AutoSaveInterval)
	stuckLoad, _ := duration(c.StuckLoadBound)
	stuckMode, _ := duration(c.StuckModeGrace)

	return []driver.Manager{
		sweeper.NewAutoSave(mgr, autoSave),
		sweeper.NewStuckLoading(mgr, stuckLoad),
		sweeper.NewStuckMode(mgr, stuckMode),
	}
}
