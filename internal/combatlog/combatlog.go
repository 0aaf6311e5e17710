// Package combatlog holds the contract between this service and the
// combat-logout coordinator. The coordinator decides what happens to a
// player who disconnects mid-fight; this service only moves the phase flag
// on the record and calls the finalize hook at rejoin time. The coordinator
// never mutates a record directly.
package combatlog

import (
	"context"

	"github.com/pixil98/go-playerdata/internal/record"
)

// Finalizer resolves a combat logout when the identity rejoins while the
// record's phase is Processed. The returned location overrides the saved
// one (typically the death or penalty location).
type Finalizer interface {
	FinalizeRejoin(ctx context.Context, id record.Identity) (record.Location, error)
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(ctx context.Context, id record.Identity) (record.Location, error)

func (f FinalizerFunc) FinalizeRejoin(ctx context.Context, id record.Identity) (record.Location, error) {
	return f(ctx, id)
}
