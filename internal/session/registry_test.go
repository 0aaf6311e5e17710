package session

import (
	"errors"
	"testing"

	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-testutil"
)

func TestRegistry_Begin(t *testing.T) {
	r := NewRegistry()

	s, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected a session")
	}
	testutil.AssertEqual(t, "state", r.State("alice"), StateLoading)
}

func TestRegistry_BeginDuplicate(t *testing.T) {
	r := NewRegistry()

	_, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = r.Begin("alice", nil)
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestRegistry_StateOfflineWhenAbsent(t *testing.T) {
	r := NewRegistry()

	testutil.AssertEqual(t, "state", r.State("nobody"), StateOffline)
	testutil.AssertEqual(t, "offline", r.Offline("nobody"), true)
}

func TestRegistry_SetReady(t *testing.T) {
	r := NewRegistry()

	_, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := record.NewDefault("alice", record.Location{World: "overworld"})
	err = r.SetReady("alice", rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "state", r.State("alice"), StateReady)
	testutil.AssertEqual(t, "offline", r.Offline("alice"), false)
	if r.Record("alice") != rec {
		t.Error("expected the attached record back")
	}
}

func TestRegistry_SetReadyMissing(t *testing.T) {
	r := NewRegistry()

	err := r.SetReady("alice", nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistry_SetReadyFromLoading(t *testing.T) {
	r := NewRegistry()

	_, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := record.NewDefault("alice", record.Location{World: "overworld"})
	if err := r.SetReadyFromLoading("alice", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "state", r.State("alice"), StateReady)

	// A second pipeline arriving late is refused and the record is kept.
	stale := record.NewDefault("alice", record.Location{World: "stale"})
	err = r.SetReadyFromLoading("alice", stale)
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
	if r.Record("alice") != rec {
		t.Error("expected the first record to survive")
	}
}

func TestRegistry_SetReadyFromLoadingMissing(t *testing.T) {
	r := NewRegistry()

	err := r.SetReadyFromLoading("alice", nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistry_SetFailed(t *testing.T) {
	r := NewRegistry()

	_, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = r.SetFailed("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "state", r.State("alice"), StateFailed)

	// Failed is terminal for SetFailed; only recovery moves it on.
	err = r.SetFailed("alice")
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestRegistry_RecoveryReadiesFailedSession(t *testing.T) {
	r := NewRegistry()

	_, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetFailed("alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := record.NewDefault("alice", record.Location{World: "overworld"})
	if err := r.SetReady("alice", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "state", r.State("alice"), StateReady)
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := NewRegistry()

	_, err := r.Begin("alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Remove("alice")
	testutil.AssertEqual(t, "state", r.State("alice"), StateOffline)

	// Removing again is a no-op.
	r.Remove("alice")
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	for _, id := range []record.Identity{"alice", "bob", "carol"} {
		if _, err := r.Begin(id, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rec := record.NewDefault("bob", record.Location{World: "overworld"})
	rec.Phase = record.PhaseProcessing
	if err := r.SetReady("bob", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	infos := r.List()
	testutil.AssertEqual(t, "session count", len(infos), 3)

	byID := map[record.Identity]Info{}
	for _, info := range infos {
		byID[info.Identity] = info
	}
	testutil.AssertEqual(t, "alice state", byID["alice"].State, StateLoading)
	testutil.AssertEqual(t, "bob state", byID["bob"].State, StateReady)
	testutil.AssertEqual(t, "bob phase", byID["bob"].Phase, record.PhaseProcessing)
}
