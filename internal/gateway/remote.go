package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixil98/go-playerdata/internal/entity"
	"github.com/pixil98/go-playerdata/internal/record"
)

// Entity command subjects. The engine adapter serves these; the subject
// carries the identity as its last token.
const (
	subjectPlaceholderApply = "playerdata.entity.placeholder.apply.%s"
	subjectPlaceholderClear = "playerdata.entity.placeholder.clear.%s"
	subjectInventoryApply   = "playerdata.entity.inventory.apply.%s"
	subjectStatsApply       = "playerdata.entity.stats.apply.%s"
	subjectGameModeApply    = "playerdata.entity.gamemode.apply.%s"
	subjectTeleport         = "playerdata.entity.teleport.%s"
	subjectInventoryGet     = "playerdata.entity.inventory.get.%s"
	subjectStatsGet         = "playerdata.entity.stats.get.%s"
	subjectLocationGet      = "playerdata.entity.location.get.%s"
	subjectRestrictedGet    = "playerdata.entity.restricted.get.%s"
)

// Requester is the bus surface the remote entity needs.
type Requester interface {
	Request(subject string, data []byte, timeout time.Duration) ([]byte, error)
}

// reply is the engine adapter's answer to an entity command: the requested
// payload, or an error string when the engine could not apply the command.
type reply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// RemoteProvider builds entities that proxy every call over the bus to the
// host engine's adapter. The engine side owns marshalling onto its
// interactive thread; from here each call is one request/reply.
type RemoteProvider struct {
	bus     Requester
	timeout time.Duration
}

func NewRemoteProvider(bus Requester, timeout time.Duration) *RemoteProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteProvider{bus: bus, timeout: timeout}
}

func (p *RemoteProvider) Entity(id record.Identity) (entity.Entity, bool) {
	return &remoteEntity{id: id, bus: p.bus, timeout: p.timeout}, true
}

type remoteEntity struct {
	id      record.Identity
	bus     Requester
	timeout time.Duration
}

func (e *remoteEntity) Identity() record.Identity {
	return e.id
}

func (e *remoteEntity) ApplyPlaceholder() {
	if err := e.command(subjectPlaceholderApply, nil); err != nil {
		slog.Error("applying placeholder", "identity", e.id, "error", err)
	}
}

func (e *remoteEntity) ClearPlaceholder() {
	if err := e.command(subjectPlaceholderClear, nil); err != nil {
		slog.Error("clearing placeholder", "identity", e.id, "error", err)
	}
}

func (e *remoteEntity) Restricted() bool {
	var restricted bool
	if err := e.query(subjectRestrictedGet, &restricted); err != nil {
		slog.Warn("querying restricted state", "identity", e.id, "error", err)
		return false
	}
	return restricted
}

func (e *remoteEntity) ApplyInventory(items []record.ItemStack) error {
	if items == nil {
		items = []record.ItemStack{}
	}
	return e.command(subjectInventoryApply, items)
}

func (e *remoteEntity) ApplyStats(stats record.Stats) error {
	return e.command(subjectStatsApply, stats)
}

func (e *remoteEntity) ApplyGameMode(mode string) error {
	return e.command(subjectGameModeApply, mode)
}

func (e *remoteEntity) Teleport(loc record.Location) error {
	return e.command(subjectTeleport, loc)
}

func (e *remoteEntity) SnapshotInventory() []record.ItemStack {
	var items []record.ItemStack
	if err := e.query(subjectInventoryGet, &items); err != nil {
		slog.Error("snapshotting inventory", "identity", e.id, "error", err)
		return nil
	}
	return items
}

func (e *remoteEntity) SnapshotStats() record.Stats {
	var stats record.Stats
	if err := e.query(subjectStatsGet, &stats); err != nil {
		slog.Error("snapshotting stats", "identity", e.id, "error", err)
	}
	return stats
}

func (e *remoteEntity) Location() record.Location {
	var loc record.Location
	if err := e.query(subjectLocationGet, &loc); err != nil {
		slog.Error("reading location", "identity", e.id, "error", err)
	}
	return loc
}

// command sends a fire-and-check request: the engine acks or reports why it
// could not apply the payload.
func (e *remoteEntity) command(subjectFmt string, payload any) error {
	_, err := e.roundTrip(subjectFmt, payload)
	return err
}

// query sends a request and decodes the reply payload into out.
func (e *remoteEntity) query(subjectFmt string, out any) error {
	data, err := e.roundTrip(subjectFmt, nil)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty reply")
	}
	return json.Unmarshal(data, out)
}

func (e *remoteEntity) roundTrip(subjectFmt string, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling payload: %w", err)
		}
	}

	subject := fmt.Sprintf(subjectFmt, e.id)
	raw, err := e.bus.Request(subject, body, e.timeout)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", subject, err)
	}

	var rep reply
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("unmarshalling reply: %w", err)
	}
	if rep.Error != "" {
		return nil, fmt.Errorf("engine rejected %s: %s", subject, rep.Error)
	}
	return rep.Data, nil
}
