package storage

import (
	"context"

	"github.com/pixil98/go-playerdata/internal/record"
)

// Storer is the durable store for player records. Implementations must be
// safe for concurrent calls on different identities; calls are treated as
// fallible and possibly slow, so every method takes a context the caller
// bounds with a timeout.
//
// Find returns (nil, nil) when no record exists for the identity.
type Storer interface {
	Find(ctx context.Context, id record.Identity) (*record.Record, error)
	Save(ctx context.Context, r *record.Record) error

	// IdentitiesInPhase lists identities whose persisted record sits in the
	// given combat-logout phase. Used by the startup sweep to clear
	// Processing residue left by a crash.
	IdentitiesInPhase(ctx context.Context, p record.Phase) ([]record.Identity, error)

	Close() error
}
