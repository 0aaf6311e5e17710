package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixil98/go-playerdata/internal/record"
)

// The coordinator serves rejoin finalization the same way the engine serves
// entity commands: one request/reply keyed by identity.
const subjectFinalizeRejoin = "playerdata.combatlogout.finalize.%s"

// RemoteFinalizer asks the combat-logout coordinator over the bus where a
// rejoining identity belongs.
type RemoteFinalizer struct {
	bus     Requester
	timeout time.Duration
}

func NewRemoteFinalizer(bus Requester, timeout time.Duration) *RemoteFinalizer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteFinalizer{bus: bus, timeout: timeout}
}

func (f *RemoteFinalizer) FinalizeRejoin(ctx context.Context, id record.Identity) (record.Location, error) {
	subject := fmt.Sprintf(subjectFinalizeRejoin, id)
	raw, err := f.bus.Request(subject, nil, f.timeout)
	if err != nil {
		return record.Location{}, fmt.Errorf("requesting %s: %w", subject, err)
	}

	var rep reply
	if err := json.Unmarshal(raw, &rep); err != nil {
		return record.Location{}, fmt.Errorf("unmarshalling reply: %w", err)
	}
	if rep.Error != "" {
		return record.Location{}, fmt.Errorf("coordinator rejected %s: %s", subject, rep.Error)
	}

	var loc record.Location
	if err := json.Unmarshal(rep.Data, &loc); err != nil {
		return record.Location{}, fmt.Errorf("unmarshalling location: %w", err)
	}
	return loc, nil
}
