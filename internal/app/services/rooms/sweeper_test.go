package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
)

func TestSweeperTimesOutExpiredRooms(t *testing.T) {
	svc, store, _ := newTestService(t, &fakeEngine{}, &fakeFinalizer{})

	opened, err := svc.Open(context.Background(), testToken, testAmount, []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	sweeper := NewSweeper(svc, 5*time.Millisecond, nil)
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sweeper.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err := store.GetRoom(context.Background(), opened.ID)
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if r.State == room.StateTimedOut {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("room still %s after sweep window", r.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeperRecoversOnStart(t *testing.T) {
	finalizer := &fakeFinalizer{txHash: "0xswept"}
	svc, store, _ := newTestService(t, &fakeEngine{}, finalizer)

	opened, err := svc.Open(context.Background(), testToken, testAmount, []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	opened.State = room.StateFinalizing
	if _, err := store.UpdateRoom(context.Background(), opened); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}

	sweeper := NewSweeper(svc, time.Hour, nil)
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sweeper.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err := store.GetRoom(context.Background(), opened.ID)
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if r.State == room.StateCompleted {
			if r.TxHash != "0xswept" {
				t.Fatalf("tx hash = %q", r.TxHash)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("room still %s after recovery", r.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeperStartStopIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeEngine{}, &fakeFinalizer{})
	sweeper := NewSweeper(svc, time.Hour, nil)

	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := sweeper.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sweeper.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
