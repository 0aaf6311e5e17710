package session

import (
	"errors"
	"time"

	"github.com/pixil98/go-playerdata/internal/entity"
	"github.com/pixil98/go-playerdata/internal/record"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrBadTransition   = errors.New("invalid session state transition")
)

// State is the lifecycle state of a connected identity.
type State int

const (
	StateOffline State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session tracks one connected identity. Fields are guarded by the owning
// Registry's lock; read them through Registry methods or an Info copy.
type Session struct {
	identity  record.Identity
	state     State
	startedAt time.Time

	rec *record.Record
	ent entity.Entity
}

// Identity returns the session's identity. Immutable after creation.
func (s *Session) Identity() record.Identity {
	return s.identity
}

// Info is a point-in-time copy of a session's observable state.
type Info struct {
	Identity  record.Identity
	State     State
	StartedAt time.Time
	Phase     record.Phase
}
