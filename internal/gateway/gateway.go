// Package gateway bridges the host engine and the player manager. The
// engine never reaches into the registry directly: it emits connect and
// disconnect events on the bus, and this gateway consumes them.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixil98/go-playerdata/internal/entity"
	"github.com/pixil98/go-playerdata/internal/player"
	"github.com/pixil98/go-playerdata/internal/record"
)

// Subjects the host engine and the combat-logout coordinator publish on.
const (
	SubjectConnect              = "playerdata.connect"
	SubjectDisconnect           = "playerdata.disconnect"
	SubjectCombatLogoutStart    = "playerdata.combatlogout.start"
	SubjectCombatLogoutComplete = "playerdata.combatlogout.complete"
)

// Event is the JSON payload of a connect, disconnect, or combat-logout
// start message.
type Event struct {
	Identity record.Identity `json:"identity"`
}

// CombatLogoutEvent is the payload of a completion message: the
// coordinator's final word on the identity's data.
type CombatLogoutEvent struct {
	Identity  record.Identity    `json:"identity"`
	Inventory []record.ItemStack `json:"inventory"`
	Stats     record.Stats       `json:"stats"`
	Location  record.Location    `json:"location"`
}

// Subscriber is the bus surface the gateway consumes.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func(), err error)
}

type Gateway struct {
	bus      Subscriber
	mgr      *player.Manager
	provider entity.Provider
}

func NewGateway(bus Subscriber, mgr *player.Manager, provider entity.Provider) *Gateway {
	return &Gateway{
		bus:      bus,
		mgr:      mgr,
		provider: provider,
	}
}

func (g *Gateway) Start(ctx context.Context) error {
	unsubConnect, err := g.subscribe(ctx, SubjectConnect, func(data []byte) {
		g.handleConnect(ctx, data)
	})
	if err != nil {
		return err
	}
	defer unsubConnect()

	unsubDisconnect, err := g.subscribe(ctx, SubjectDisconnect, func(data []byte) {
		// Disconnect awaits the guaranteed save; keep the bus callback free.
		go g.handleDisconnect(ctx, data)
	})
	if err != nil {
		return err
	}
	defer unsubDisconnect()

	unsubStart, err := g.subscribe(ctx, SubjectCombatLogoutStart, func(data []byte) {
		go g.handleCombatLogoutStart(ctx, data)
	})
	if err != nil {
		return err
	}
	defer unsubStart()

	unsubComplete, err := g.subscribe(ctx, SubjectCombatLogoutComplete, func(data []byte) {
		go g.handleCombatLogoutComplete(ctx, data)
	})
	if err != nil {
		return err
	}
	defer unsubComplete()

	<-ctx.Done()
	return nil
}

// subscribe retries until the bus is up. Workers start concurrently, so the
// gateway can race the bus's own startup.
func (g *Gateway) subscribe(ctx context.Context, subject string, handler func([]byte)) (func(), error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		unsub, err := g.bus.Subscribe(subject, handler)
		if err == nil {
			return unsub, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
	}
}

func (g *Gateway) handleConnect(ctx context.Context, data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.WarnContext(ctx, "malformed connect event", "error", err)
		return
	}

	ent, ok := g.provider.Entity(ev.Identity)
	if !ok {
		slog.WarnContext(ctx, "connect event for unknown entity", "identity", ev.Identity)
		return
	}

	if err := g.mgr.Connect(ctx, ent); err != nil {
		slog.WarnContext(ctx, "rejecting connect", "identity", ev.Identity, "error", err)
	}
}

func (g *Gateway) handleDisconnect(ctx context.Context, data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.WarnContext(ctx, "malformed disconnect event", "error", err)
		return
	}

	if err := g.mgr.Disconnect(ctx, ev.Identity); err != nil {
		slog.ErrorContext(ctx, "handling disconnect", "identity", ev.Identity, "error", err)
	}
}

func (g *Gateway) handleCombatLogoutStart(ctx context.Context, data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.WarnContext(ctx, "malformed combat-logout start event", "error", err)
		return
	}

	if err := g.mgr.BeginCombatLogout(ctx, ev.Identity); err != nil {
		slog.ErrorContext(ctx, "beginning combat logout", "identity", ev.Identity, "error", err)
	}
}

func (g *Gateway) handleCombatLogoutComplete(ctx context.Context, data []byte) {
	var ev CombatLogoutEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.WarnContext(ctx, "malformed combat-logout complete event", "error", err)
		return
	}

	if err := g.mgr.CompleteCombatLogout(ctx, ev.Identity, ev.Inventory, ev.Stats, ev.Location); err != nil {
		slog.ErrorContext(ctx, "completing combat logout", "identity", ev.Identity, "error", err)
	}
}
