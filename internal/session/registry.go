package session

import (
	"sync"
	"time"

	"github.com/pixil98/go-playerdata/internal/entity"
	"github.com/pixil98/go-playerdata/internal/record"
)

// Registry is the single source of truth for connected identities. A record
// is reachable from the registry if and only if its session is Loading or
// Ready; removal happens only after the disconnect path has persisted it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[record.Identity]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[record.Identity]*Session{},
	}
}

// Begin creates a Loading session for a connecting identity. Concurrent
// connect attempts for the same identity collapse: the second caller gets
// ErrSessionExists and must not start a pipeline.
func (r *Registry) Begin(id record.Identity, ent entity.Entity) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, ErrSessionExists
	}

	s := &Session{
		identity:  id,
		state:     StateLoading,
		startedAt: time.Now(),
		ent:       ent,
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the session for an identity, or nil if not connected.
func (r *Registry) Get(id record.Identity) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[id]
}

// State returns the lifecycle state for an identity; StateOffline if there
// is no session.
func (r *Registry) State(id record.Identity) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return StateOffline
	}
	return s.state
}

// Offline reports whether an identity has no live session. The dispatcher
// uses this to decide when an idle queue worker may retire.
func (r *Registry) Offline(id record.Identity) bool {
	return r.State(id) == StateOffline
}

// SetReady attaches a record and moves the session to Ready regardless of
// its current state. Emergency recovery uses this to move Failed sessions
// back to Ready and to re-ready a Ready session whose entity got stuck.
func (r *Registry) SetReady(id record.Identity, rec *record.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.rec = rec
	s.state = StateReady
	return nil
}

// SetReadyFromLoading attaches the loaded record and moves the session to
// Ready only while it is still Loading. A pipeline whose watchdog already
// fired finds the session Failed or recovered and gets ErrBadTransition;
// its record must not replace the live one.
func (r *Registry) SetReadyFromLoading(id record.Identity, rec *record.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.state != StateLoading {
		return ErrBadTransition
	}
	s.rec = rec
	s.state = StateReady
	return nil
}

// SetFailed marks a Loading session as failed.
func (r *Registry) SetFailed(id record.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.state != StateLoading {
		return ErrBadTransition
	}
	s.state = StateFailed
	return nil
}

// Remove drops the session. Disconnect is idempotent from any state, so a
// missing session is not an error.
func (r *Registry) Remove(id record.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Record returns the record attached to an identity's session, or nil. The
// returned pointer is owned by whichever queue operation holds the
// identity's lock; callers must only touch it from inside one.
func (r *Registry) Record(id record.Identity) *record.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return s.rec
}

// Entity returns the live entity attached to an identity's session, or nil.
func (r *Registry) Entity(id record.Identity) entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return s.ent
}

// DetachEntity drops the session's live entity reference on disconnect.
func (r *Registry) DetachEntity(id record.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.ent = nil
	}
}

// ForEach calls fn with an Info copy of every session. The registry lock is
// held for the duration; fn must not call back into the registry.
func (r *Registry) ForEach(fn func(Info)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		fn(r.info(s))
	}
}

// List returns Info copies of all sessions.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, r.info(s))
	}
	return infos
}

func (r *Registry) info(s *Session) Info {
	info := Info{
		Identity:  s.identity,
		State:     s.state,
		StartedAt: s.startedAt,
	}
	if s.rec != nil {
		info.Phase = s.rec.Phase
	}
	return info
}
