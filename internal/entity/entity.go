// Package entity defines the contract between this service and the host
// game engine's in-world player representation. The engine provides the
// implementation; implementations must marshal calls onto the engine's
// interactive thread themselves so no method here blocks on I/O.
package entity

import "github.com/pixil98/go-playerdata/internal/record"

// Entity is one connected identity's live in-world representation.
type Entity interface {
	Identity() record.Identity

	// ApplyPlaceholder puts the entity into the safe loading state:
	// invulnerable, restricted movement, cleared inventory. Nothing
	// half-loaded is ever exploitable behind it.
	ApplyPlaceholder()

	// ClearPlaceholder lifts the loading restrictions.
	ClearPlaceholder()

	// Restricted reports whether placeholder restrictions are still active.
	Restricted() bool

	ApplyInventory(items []record.ItemStack) error
	ApplyStats(stats record.Stats) error
	ApplyGameMode(mode string) error
	Teleport(loc record.Location) error

	SnapshotInventory() []record.ItemStack
	SnapshotStats() record.Stats
	Location() record.Location
}

// Provider resolves the live entity for a connecting identity. The gateway
// uses it when a connect event arrives over the bus.
type Provider interface {
	Entity(id record.Identity) (Entity, bool)
}
