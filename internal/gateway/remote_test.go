package gateway

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pixil98/go-playerdata/internal/record"
	"github.com/pixil98/go-testutil"
)

// fakeRequester answers bus requests from a canned subject->reply map.
type fakeRequester struct {
	replies  map[string]reply
	err      error
	requests []string
	payloads map[string][]byte
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{
		replies:  map[string]reply{},
		payloads: map[string][]byte{},
	}
}

func (f *fakeRequester) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	f.requests = append(f.requests, subject)
	f.payloads[subject] = data

	if f.err != nil {
		return nil, f.err
	}

	rep, ok := f.replies[subject]
	if !ok {
		rep = reply{Data: json.RawMessage(`{}`)}
	}
	return json.Marshal(rep)
}

func (f *fakeRequester) reply(subject string, payload any) {
	data, _ := json.Marshal(payload)
	f.replies[subject] = reply{Data: data}
}

func TestRemoteEntity_Teleport(t *testing.T) {
	bus := newFakeRequester()
	provider := NewRemoteProvider(bus, time.Second)

	ent, ok := provider.Entity("alice")
	testutil.AssertEqual(t, "entity available", ok, true)

	loc := record.Location{World: "overworld", X: 1, Y: 64, Z: -2}
	if err := ent.Teleport(loc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subject := fmt.Sprintf(subjectTeleport, "alice")
	testutil.AssertEqual(t, "request count", len(bus.requests), 1)
	testutil.AssertEqual(t, "subject", bus.requests[0], subject)

	var sent record.Location
	if err := json.Unmarshal(bus.payloads[subject], &sent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "location", sent, loc)
}

func TestRemoteEntity_SnapshotStats(t *testing.T) {
	bus := newFakeRequester()
	want := record.Stats{Health: 11, MaxHealth: 20, Level: 5, GameMode: "survival"}
	bus.reply(fmt.Sprintf(subjectStatsGet, "alice"), want)

	provider := NewRemoteProvider(bus, time.Second)
	ent, _ := provider.Entity("alice")

	testutil.AssertEqual(t, "stats", ent.SnapshotStats(), want)
}

func TestRemoteEntity_SnapshotInventory(t *testing.T) {
	bus := newFakeRequester()
	want := []record.ItemStack{{Slot: 0, Item: "compass", Count: 1}}
	bus.reply(fmt.Sprintf(subjectInventoryGet, "alice"), want)

	provider := NewRemoteProvider(bus, time.Second)
	ent, _ := provider.Entity("alice")

	got := ent.SnapshotInventory()
	testutil.AssertEqual(t, "inventory length", len(got), 1)
	testutil.AssertEqual(t, "item", got[0].Item, "compass")
}

func TestRemoteEntity_EngineRejection(t *testing.T) {
	bus := newFakeRequester()
	subject := fmt.Sprintf(subjectGameModeApply, "alice")
	bus.replies[subject] = reply{Error: "unknown game mode"}

	provider := NewRemoteProvider(bus, time.Second)
	ent, _ := provider.Entity("alice")

	err := ent.ApplyGameMode("bogus")
	if err == nil {
		t.Error("expected error for rejected command")
	}
}

func TestRemoteEntity_BusFailure(t *testing.T) {
	bus := newFakeRequester()
	bus.err = fmt.Errorf("injected bus failure")

	provider := NewRemoteProvider(bus, time.Second)
	ent, _ := provider.Entity("alice")

	if err := ent.ApplyStats(record.Stats{}); err == nil {
		t.Error("expected error when the bus is down")
	}

	// Queries degrade instead of failing the caller.
	testutil.AssertEqual(t, "restricted", ent.Restricted(), false)
	testutil.AssertEqual(t, "inventory", len(ent.SnapshotInventory()), 0)
}

func TestRemoteEntity_NilInventoryApplied(t *testing.T) {
	bus := newFakeRequester()
	provider := NewRemoteProvider(bus, time.Second)
	ent, _ := provider.Entity("alice")

	if err := ent.ApplyInventory(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subject := fmt.Sprintf(subjectInventoryApply, "alice")
	testutil.AssertEqual(t, "payload", string(bus.payloads[subject]), "[]")
}
