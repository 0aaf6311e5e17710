package record

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

// StalePhaseBound is how long a record may sit in PhaseProcessing before it
// is treated as crash residue and healed back to PhaseNone.
const StalePhaseBound = 5 * time.Minute

// Identity is the stable unique key for a connected player across sessions.
type Identity string

func (id Identity) String() string {
	return string(id)
}

// Phase tracks the combat-logout state machine on a record. While a record
// is Processing or freshly Processed, the combat-logout coordinator owns its
// inventory and location; ordinary snapshots must not overwrite them.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseProcessing
	PhaseProcessed
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseProcessing:
		return "processing"
	case PhaseProcessed:
		return "processed"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*p = PhaseNone
	case "processing":
		*p = PhaseProcessing
	case "processed":
		*p = PhaseProcessed
	case "completed":
		*p = PhaseCompleted
	default:
		return fmt.Errorf("unknown combat-logout phase: %s", text)
	}
	return nil
}

// Suppressed reports whether ordinary inventory/stats snapshots must be
// skipped because the combat-logout coordinator owns the record's data.
func (p Phase) Suppressed() bool {
	return p == PhaseProcessing || p == PhaseProcessed
}

// Location is a point in a named world.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// ItemStack is one inventory slot.
type ItemStack struct {
	Slot  int    `json:"slot"`
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Stats holds the player's vital and progression numbers.
type Stats struct {
	Health     float64 `json:"health"`
	MaxHealth  float64 `json:"max_health"`
	Level      int     `json:"level"`
	Experience int     `json:"experience"`
	GameMode   string  `json:"game_mode"`
}

// Record is the durable snapshot of one identity's persistent state. It is
// owned by whichever queue worker currently holds the identity's lock;
// otherwise by the session registry entry it hangs off of.
type Record struct {
	Identity  Identity    `json:"identity"`
	Inventory []ItemStack `json:"inventory,omitempty"`
	Stats     Stats       `json:"stats"`
	Location  Location    `json:"location"`
	Rank      string      `json:"rank,omitempty"`
	Phase     Phase       `json:"combat_logout_phase,omitempty"`

	// LastSaveAt is set immediately before every successful persistence
	// call. It doubles as the stuck-Processing detector.
	LastSaveAt time.Time `json:"last_save_at,omitempty"`
}

// NewDefault builds a fresh record for an identity that has never been
// persisted, placed at the default spawn.
func NewDefault(id Identity, spawn Location) *Record {
	return &Record{
		Identity: id,
		Stats: Stats{
			Health:    20,
			MaxHealth: 20,
			Level:     1,
			GameMode:  "survival",
		},
		Location: spawn,
	}
}

// HealStalePhase resets a Processing phase that has outlived bound since the
// last save. Such a phase is crash residue: the coordinator that set it is
// gone. Returns true if the record was changed.
func (r *Record) HealStalePhase(now time.Time, bound time.Duration) bool {
	if r.Phase != PhaseProcessing {
		return false
	}
	if !r.LastSaveAt.IsZero() && now.Sub(r.LastSaveAt) <= bound {
		return false
	}
	r.Phase = PhaseNone
	return true
}

// Validate checks the record for storage.
func (r *Record) Validate() error {
	el := errors.NewErrorList()

	if r.Identity == "" {
		el.Add(fmt.Errorf("identity must be set"))
	}
	if r.Stats.MaxHealth < 0 {
		el.Add(fmt.Errorf("max_health must not be negative"))
	}
	if r.Stats.Health > r.Stats.MaxHealth {
		el.Add(fmt.Errorf("health exceeds max_health"))
	}
	for i, is := range r.Inventory {
		if is.Item == "" {
			el.Add(fmt.Errorf("inventory slot %d: item must be set", i))
		}
		if is.Count <= 0 {
			el.Add(fmt.Errorf("inventory slot %d: count must be positive", i))
		}
	}

	return el.Err()
}
