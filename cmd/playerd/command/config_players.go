package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-playerdata/internal/combatlog"
	"github.com/pixil98/go-playerdata/internal/diag"
	"github.com/pixil98/go-playerdata/internal/player"
	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-playerdata/internal/session"
	"github.com/pixil98/go-playerdata/internal/storage"
)

type SpawnConfig struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type PlayerConfig struct {
	DefaultSpawn SpawnConfig `json:"default_spawn"`

	FetchTimeout       string `json:"fetch_timeout,omitempty"`
	LoadTimeout        string `json:"load_timeout,omitempty"`
	SnapshotTimeout    string `json:"snapshot_timeout,omitempty"`
	SaveAttempts       int    `json:"save_attempts,omitempty"`
	SaveAttemptTimeout string `json:"save_attempt_timeout,omitempty"`
	SaveBackoff        string `json:"save_backoff,omitempty"`

	OpTimeout     string `json:"op_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
	QueueDepth    int    `json:"queue_depth,omitempty"`
	EntityTimeout string `json:"entity_timeout,omitempty"`
}

func (c *PlayerConfig) Validate() error {
	el := errors.NewErrorList()

	if c.DefaultSpawn.World == "" {
		el.Add(fmt.Errorf("default_spawn.world is required"))
	}
	if c.SaveAttempts < 0 {
		el.Add(fmt.Errorf("save_attempts must not be negative"))
	}
	if c.QueueDepth < 0 {
		el.Add(fmt.Errorf("queue_depth must not be negative"))
	}

	for name, val := range map[string]string{
		"fetch_timeout":        c.FetchTimeout,
		"load_timeout":         c.LoadTimeout,
		"snapshot_timeout":     c.SnapshotTimeout,
		"save_attempt_timeout": c.SaveAttemptTimeout,
		"save_backoff":         c.SaveBackoff,
		"op_timeout":           c.OpTimeout,
		"idle_timeout":         c.IdleTimeout,
		"entity_timeout":       c.EntityTimeout,
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

func (c *PlayerConfig) BuildDispatcher(counters *diag.Counters, registry *session.Registry) *session.Dispatcher {
	opts := []session.DispatcherOpt{
		session.WithOfflineCheck(registry.Offline),
	}
	if d, ok := duration(c.OpTimeout); ok {
		opts = append(opts, session.WithOpTimeout(d))
	}
	if d, ok := duration(c.IdleTimeout); ok {
		opts = append(opts, session.WithIdleTimeout(d))
	}
	if c.QueueDepth > 0 {
		opts = append(opts, session.WithInboxSize(c.QueueDepth))
	}

	return session.NewDispatcher(counters, opts...)
}

func (c *PlayerConfig) BuildManager(
	registry *session.Registry,
	ops *session.Dispatcher,
	store storage.Storer,
	counters *diag.Counters,
	pub player.Publisher,
	finalizer combatlog.Finalizer,
) *player.Manager {
	opts := []player.ManagerOpt{
		player.WithDefaultSpawn(record.Location{
			World: c.DefaultSpawn.World,
			X:     c.DefaultSpawn.X,
			Y:     c.DefaultSpawn.Y,
			Z:     c.DefaultSpawn.Z,
		}),
	}

	if pub != nil {
		opts = append(opts, player.WithPublisher(pub))
	}
	if finalizer != nil {
		opts = append(opts, player.WithFinalizer(finalizer))
	}
	if d, ok := duration(c.FetchTimeout); ok {
		opts = append(opts, player.WithFetchTimeout(d))
	}
	if d, ok := duration(c.LoadTimeout); ok {
		opts = append(opts, player.WithLoadTimeout(d))
	}
	if d, ok := duration(c.SnapshotTimeout); ok {
		opts = append(opts, player.WithSnapshotTimeout(d))
	}
	if c.SaveAttempts > 0 {
		opts = append(opts, player.WithSaveAttempts(c.SaveAttempts))
	}
	if d, ok := duration(c.SaveAttemptTimeout); ok {
		opts = append(opts, player.WithSaveAttemptTimeout(d))
	}
	if d, ok := duration(c.SaveBackoff); ok {
		opts = append(opts, player.WithSaveBackoff(d))
	}

	return player.NewManager(registry, ops, store, counters, opts...)
}

// duration parses an optional duration string; validation already rejected
// malformed values.
func duration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}
