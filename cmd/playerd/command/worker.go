package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-playerdata/internal/console"
	"github.com/pixil98/go-playerdata/internal/diag"
	"github.com/pixil98/go-playerdata/internal/driver"
	"github.com/pixil98/go-playerdata/internal/gateway"
	"github.com/pixil98/go-playerdata/internal/listener"
	"github.com/pixil98/go-playerdata/internal/session"
	"github.com/pixil98/go-playerdata/internal/sweeper"
	"github.com/pixil98/go-service"
)

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	counters := &diag.Counters{}

	// Create the record store
	store, err := cfg.Storage.BuildStore()
	if err != nil {
		return nil, fmt.Errorf("creating record store: %w", err)
	}

	// Create the message bus
	bus, err := cfg.Nats.BuildBus()
	if err != nil {
		return nil, fmt.Errorf("creating message bus: %w", err)
	}

	// Create the session layer
	registry := session.NewRegistry()
	ops := cfg.Players.BuildDispatcher(counters, registry)

	// Proxy the host engine's entities and the combat-logout coordinator's
	// finalize hook over the bus
	entityTimeout, _ := duration(cfg.Players.EntityTimeout)
	provider := gateway.NewRemoteProvider(bus, entityTimeout)
	finalizer := gateway.NewRemoteFinalizer(bus, entityTimeout)

	// Create the player manager
	mgr := cfg.Players.BuildManager(registry, ops, store, counters, bus, finalizer)

	// Bridge the host engine onto the manager
	gw := gateway.NewGateway(bus, mgr, provider)

	// Create Listeners for the admin console
	cm := listener.NewConnectionManager(console.New(mgr))
	listeners := make(service.WorkerList, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		lst, err := l.BuildListener(cm)
		if err != nil {
			return nil, fmt.Errorf("creating listener %d: %w", i, err)
		}
		listeners[fmt.Sprintf("listener-%d", i)] = lst
	}

	// Setup the sweep driver
	var driverOpts []driver.SweepDriverOpt
	if cfg.TickInterval != "" {
		d, err := time.ParseDuration(cfg.TickInterval)
		if err != nil {
			return nil, fmt.Errorf("parsing tick_interval: %w", err)
		}
		driverOpts = append(driverOpts, driver.WithTickLength(d))
	}
	drv := driver.NewSweepDriver(cfg.Sweeps.BuildSweepers(mgr), driverOpts...)

	// Create a worker list
	return service.WorkerList{
		"bus":           bus,
		"gateway":       gw,
		"manager":       mgr,
		"driver":        drv,
		"startup-sweep": sweeper.NewStartup(store, 0),
		"listeners":     &listeners,
	}, nil
}
