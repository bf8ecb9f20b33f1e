package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	"github.com/coin-shuffle/coordinator/internal/app/domain/queue"
	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/app/storage"
)

func TestParticipantLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateParticipant(ctx, participant.Participant{UTXOID: "1", Token: "0xaa", Amount: "1000", Queued: true})
	if err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	if _, err := store.CreateParticipant(ctx, participant.Participant{UTXOID: "1"}); err == nil {
		t.Fatal("duplicate create succeeded")
	}

	created.Queued = false
	created.RoomID = "room-1"
	updated, err := store.UpdateParticipant(ctx, created)
	if err != nil {
		t.Fatalf("UpdateParticipant: %v", err)
	}
	if updated.Queued || updated.RoomID != "room-1" {
		t.Fatalf("updated = %+v", updated)
	}

	got, err := store.GetParticipant(ctx, "1")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if got.RoomID != "room-1" {
		t.Fatalf("room id = %q", got.RoomID)
	}
}

func TestParticipantNotFound(t *testing.T) {
	store := New()

	_, err := store.GetParticipant(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get error = %v", err)
	}
	_, err = store.UpdateParticipant(context.Background(), participant.Participant{UTXOID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update error = %v", err)
	}
}

func TestQueueRoundTripAndIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	empty, err := store.GetQueue(ctx, "0xaa", "1000")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if empty.Token != "0xaa" || empty.Amount != "1000" || len(empty.Members) != 0 {
		t.Fatalf("empty queue = %+v", empty)
	}

	q := queue.Queue{Token: "0xaa", Amount: "1000", Members: []string{"1", "2"}}
	if err := store.PutQueue(ctx, q); err != nil {
		t.Fatalf("PutQueue: %v", err)
	}

	got, err := store.GetQueue(ctx, "0xaa", "1000")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	got.Members[0] = "mutated"

	again, err := store.GetQueue(ctx, "0xaa", "1000")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if again.Members[0] != "1" {
		t.Fatal("returned queue shares member slice with stored state")
	}
}

func TestRoomCloneIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	r := room.Room{
		ID:         "room-1",
		Token:      "0xaa",
		Amount:     "1000",
		Members:    []string{"1", "2", "3"},
		State:      room.StateAwaitingRound,
		RoundCount: 3,
		Deadline:   time.Now().Add(time.Minute),
	}
	r.Record(0, "1", []byte("payload"))

	if _, err := store.CreateRoom(ctx, r); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	got, err := store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	got.Members[0] = "mutated"
	got.Submissions[0]["1"][0] = 'X'

	clean, err := store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if clean.Members[0] != "1" {
		t.Fatal("member slice shared with stored state")
	}
	if string(clean.Submissions[0]["1"]) != "payload" {
		t.Fatal("submission payload shared with stored state")
	}
}

func TestUpdateRoomUnknown(t *testing.T) {
	store := New()

	_, err := store.UpdateRoom(context.Background(), room.Room{ID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v", err)
	}
}

func TestListActiveRoomsFiltersTerminalStates(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, seed := range []room.Room{
		{ID: "a", State: room.StateAwaitingRound},
		{ID: "b", State: room.StateCompleted},
		{ID: "c", State: room.StateFinalizing},
		{ID: "d", State: room.StateTimedOut},
	} {
		if _, err := store.CreateRoom(ctx, seed); err != nil {
			t.Fatalf("CreateRoom %s: %v", seed.ID, err)
		}
	}

	active, err := store.ListActiveRooms(ctx)
	if err != nil {
		t.Fatalf("ListActiveRooms: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d rooms, want 2", len(active))
	}
	if active[0].ID != "a" || active[1].ID != "c" {
		t.Fatalf("rooms = %+v", active)
	}
}
