package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/app/storage/memory"
	"github.com/coin-shuffle/coordinator/internal/apperr"
	"github.com/google/uuid"
)

const (
	testToken  = "0x00000000000000000000000000000000000000AA"
	normToken  = "0x00000000000000000000000000000000000000aa"
	testAmount = "1000"
)

type fakeOpener struct {
	mu    sync.Mutex
	rooms []room.Room
	err   error
}

func (f *fakeOpener) Open(_ context.Context, token, amount string, members []string) (room.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return room.Room{}, f.err
	}
	r := room.Room{
		ID:         uuid.NewString(),
		Token:      token,
		Amount:     amount,
		Members:    append([]string(nil), members...),
		RoundCount: len(members),
		State:      room.StateAwaitingRound,
	}
	f.rooms = append(f.rooms, r)
	return r, nil
}

type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) VerifyUTXO(context.Context, string, string, string, string) error {
	f.calls++
	return f.err
}

func newTestService(opener RoomOpener, verifier Verifier) (*Service, *memory.Store) {
	store := memory.New()
	svc := NewService(store, store, opener, verifier, Config{MinRoomSize: 3}, nil)
	return svc, store
}

func enqueue(t *testing.T, svc *Service, utxoID string) *room.Room {
	t.Helper()
	_, formed, err := svc.Enqueue(context.Background(), EnqueueRequest{
		UTXOID: utxoID,
		Token:  testToken,
		Amount: testAmount,
	})
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", utxoID, err)
	}
	return formed
}

func TestEnqueueFormsRoomAtThreshold(t *testing.T) {
	opener := &fakeOpener{}
	svc, store := newTestService(opener, nil)

	if formed := enqueue(t, svc, "1"); formed != nil {
		t.Fatal("room formed with one participant")
	}
	if formed := enqueue(t, svc, "2"); formed != nil {
		t.Fatal("room formed with two participants")
	}

	formed := enqueue(t, svc, "3")
	if formed == nil {
		t.Fatal("no room formed at threshold")
	}
	if len(formed.Members) != 3 {
		t.Fatalf("room has %d members, want 3", len(formed.Members))
	}
	if formed.Token != normToken {
		t.Fatalf("room token = %q, want normalised %q", formed.Token, normToken)
	}

	q, err := store.GetQueue(context.Background(), normToken, testAmount)
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if len(q.Members) != 0 {
		t.Fatalf("queue holds %d members after formation, want 0", len(q.Members))
	}

	for _, id := range []string{"1", "2", "3"} {
		p, err := store.GetParticipant(context.Background(), id)
		if err != nil {
			t.Fatalf("GetParticipant(%s): %v", id, err)
		}
		if p.Queued {
			t.Fatalf("participant %s still queued after formation", id)
		}
		if p.RoomID != formed.ID {
			t.Fatalf("participant %s room = %q, want %q", id, p.RoomID, formed.ID)
		}
	}
}

func TestFourthEnqueueWaitsForNextRoom(t *testing.T) {
	opener := &fakeOpener{}
	svc, store := newTestService(opener, nil)

	enqueue(t, svc, "1")
	enqueue(t, svc, "2")
	first := enqueue(t, svc, "3")
	if first == nil {
		t.Fatal("no room formed at threshold")
	}

	if formed := enqueue(t, svc, "4"); formed != nil {
		t.Fatal("fourth registration formed a room alone")
	}

	q, _ := store.GetQueue(context.Background(), normToken, testAmount)
	if len(q.Members) != 1 || q.Members[0] != "4" {
		t.Fatalf("queue members = %v, want [4]", q.Members)
	}
	for _, id := range first.Members {
		if id == "4" {
			t.Fatal("fourth registration landed in the first room")
		}
	}
}

func TestEnqueueRejectsActiveDuplicate(t *testing.T) {
	svc, _ := newTestService(&fakeOpener{}, nil)

	enqueue(t, svc, "1")
	_, _, err := svc.Enqueue(context.Background(), EnqueueRequest{
		UTXOID: "1",
		Token:  testToken,
		Amount: testAmount,
	})
	if apperr.CodeOf(err) != apperr.CodeAlreadyQueued {
		t.Fatalf("duplicate enqueue error = %v, want %s", err, apperr.CodeAlreadyQueued)
	}

	// Still registered after a room forms.
	enqueue(t, svc, "2")
	enqueue(t, svc, "3")
	_, _, err = svc.Enqueue(context.Background(), EnqueueRequest{
		UTXOID: "1",
		Token:  testToken,
		Amount: testAmount,
	})
	if apperr.CodeOf(err) != apperr.CodeAlreadyQueued {
		t.Fatalf("matched duplicate enqueue error = %v, want %s", err, apperr.CodeAlreadyQueued)
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	svc, _ := newTestService(&fakeOpener{}, nil)

	cases := []struct {
		name string
		req  EnqueueRequest
	}{
		{"empty utxo", EnqueueRequest{Token: testToken, Amount: testAmount}},
		{"non-decimal utxo", EnqueueRequest{UTXOID: "0xbeef", Token: testToken, Amount: testAmount}},
		{"oversized utxo", EnqueueRequest{UTXOID: "115792089237316195423570985008687907853269984665640564039457584007913129639936", Token: testToken, Amount: testAmount}},
		{"zero amount", EnqueueRequest{UTXOID: "1", Token: testToken, Amount: "0"}},
		{"negative amount", EnqueueRequest{UTXOID: "1", Token: testToken, Amount: "-5"}},
		{"bad token", EnqueueRequest{UTXOID: "1", Token: "not-an-address", Amount: testAmount}},
	}
	for _, tc := range cases {
		if _, _, err := svc.Enqueue(context.Background(), tc.req); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestEnqueueRunsVerifier(t *testing.T) {
	verifier := &fakeVerifier{}
	svc, _ := newTestService(&fakeOpener{}, verifier)

	enqueue(t, svc, "1")
	if verifier.calls != 1 {
		t.Fatalf("verifier called %d times, want 1", verifier.calls)
	}

	verifier.err = fmt.Errorf("utxo 2 does not exist")
	_, _, err := svc.Enqueue(context.Background(), EnqueueRequest{
		UTXOID: "2",
		Token:  testToken,
		Amount: testAmount,
	})
	if err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestWithdrawRemovesWaitingParticipant(t *testing.T) {
	svc, store := newTestService(&fakeOpener{}, nil)

	enqueue(t, svc, "1")
	enqueue(t, svc, "2")

	if err := svc.Withdraw(context.Background(), "1"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	q, _ := store.GetQueue(context.Background(), normToken, testAmount)
	if len(q.Members) != 1 || q.Members[0] != "2" {
		t.Fatalf("queue members = %v, want [2]", q.Members)
	}

	p, _ := store.GetParticipant(context.Background(), "1")
	if p.Queued || !p.Archived {
		t.Fatalf("withdrawn participant queued=%v archived=%v", p.Queued, p.Archived)
	}

	// A withdrawn slot does not count toward formation.
	if formed := enqueue(t, svc, "3"); formed != nil {
		t.Fatal("room formed with a withdrawn member counted")
	}
}

func TestWithdrawAfterMatchingFails(t *testing.T) {
	svc, _ := newTestService(&fakeOpener{}, nil)

	enqueue(t, svc, "1")
	enqueue(t, svc, "2")
	enqueue(t, svc, "3")

	err := svc.Withdraw(context.Background(), "1")
	if apperr.CodeOf(err) != apperr.CodeNotQueued {
		t.Fatalf("withdraw after match error = %v, want %s", err, apperr.CodeNotQueued)
	}
}

func TestWithdrawUnknown(t *testing.T) {
	svc, _ := newTestService(&fakeOpener{}, nil)
	err := svc.Withdraw(context.Background(), "404")
	if apperr.CodeOf(err) != apperr.CodeNotQueued {
		t.Fatalf("withdraw error = %v, want %s", err, apperr.CodeNotQueued)
	}
}

func TestArchivedParticipantMayReenqueue(t *testing.T) {
	svc, store := newTestService(&fakeOpener{}, nil)

	enqueue(t, svc, "1")
	if err := svc.Withdraw(context.Background(), "1"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	if formed := enqueue(t, svc, "1"); formed != nil {
		t.Fatal("unexpected room")
	}

	p, _ := store.GetParticipant(context.Background(), "1")
	if !p.Queued || p.Archived {
		t.Fatalf("revived participant queued=%v archived=%v", p.Queued, p.Archived)
	}
	q, _ := store.GetQueue(context.Background(), normToken, testAmount)
	if len(q.Members) != 1 || q.Members[0] != "1" {
		t.Fatalf("queue members = %v, want [1]", q.Members)
	}
}

func TestPoolsAreIndependent(t *testing.T) {
	opener := &fakeOpener{}
	svc, _ := newTestService(opener, nil)

	otherToken := "0x00000000000000000000000000000000000000bb"

	enqueue(t, svc, "1")
	enqueue(t, svc, "2")

	// Same token, different amount; different token, same amount.
	if _, formed, err := svc.Enqueue(context.Background(), EnqueueRequest{UTXOID: "10", Token: testToken, Amount: "2000"}); err != nil || formed != nil {
		t.Fatalf("cross-amount enqueue formed=%v err=%v", formed, err)
	}
	if _, formed, err := svc.Enqueue(context.Background(), EnqueueRequest{UTXOID: "11", Token: otherToken, Amount: testAmount}); err != nil || formed != nil {
		t.Fatalf("cross-token enqueue formed=%v err=%v", formed, err)
	}

	formed := enqueue(t, svc, "3")
	if formed == nil {
		t.Fatal("no room formed in original pool")
	}
	for _, id := range formed.Members {
		if id == "10" || id == "11" {
			t.Fatalf("member %s from another pool joined the room", id)
		}
	}
}

func TestConcurrentEnqueueFormsDisjointRooms(t *testing.T) {
	const participants = 60

	opener := &fakeOpener{}
	svc, store := newTestService(opener, nil)

	var wg sync.WaitGroup
	for i := 1; i <= participants; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, _, err := svc.Enqueue(context.Background(), EnqueueRequest{
				UTXOID: fmt.Sprintf("%d", id),
				Token:  testToken,
				Amount: testAmount,
			})
			if err != nil {
				t.Errorf("enqueue %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if len(opener.rooms) != participants/3 {
		t.Fatalf("formed %d rooms, want %d", len(opener.rooms), participants/3)
	}

	seen := make(map[string]string)
	for _, r := range opener.rooms {
		if len(r.Members) != 3 {
			t.Fatalf("room %s has %d members, want 3", r.ID, len(r.Members))
		}
		for _, id := range r.Members {
			if other, ok := seen[id]; ok {
				t.Fatalf("participant %s placed in rooms %s and %s", id, other, r.ID)
			}
			seen[id] = r.ID
		}
	}

	q, err := store.GetQueue(context.Background(), normToken, testAmount)
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if len(q.Members) != 0 {
		t.Fatalf("queue still holds %v after full formation", q.Members)
	}
}

func TestWithdrawRacingFormation(t *testing.T) {
	for i := 0; i < 25; i++ {
		opener := &fakeOpener{}
		svc, store := newTestService(opener, nil)

		enqueue(t, svc, "1")

		var wg sync.WaitGroup
		var withdrawErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			withdrawErr = svc.Withdraw(context.Background(), "1")
		}()
		for _, id := range []string{"2", "3"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, _, err := svc.Enqueue(context.Background(), EnqueueRequest{
					UTXOID: id,
					Token:  testToken,
					Amount: testAmount,
				}); err != nil {
					t.Errorf("enqueue %s: %v", id, err)
				}
			}(id)
		}
		wg.Wait()

		p, err := store.GetParticipant(context.Background(), "1")
		if err != nil {
			t.Fatalf("GetParticipant: %v", err)
		}

		if withdrawErr == nil {
			// The withdrawal won: no room may include the withdrawn UTXO.
			if !p.Archived || p.RoomID != "" {
				t.Fatalf("withdrawn participant archived=%v room=%q", p.Archived, p.RoomID)
			}
			for _, r := range opener.rooms {
				if r.MemberIndex("1") >= 0 {
					t.Fatalf("withdrawn participant appears in room %s", r.ID)
				}
			}
			continue
		}

		// The room formed first: the member is committed.
		if apperr.CodeOf(withdrawErr) != apperr.CodeNotQueued {
			t.Fatalf("withdraw error = %v, want %s", withdrawErr, apperr.CodeNotQueued)
		}
		if len(opener.rooms) != 1 || opener.rooms[0].MemberIndex("1") < 0 {
			t.Fatalf("refused withdrawal but participant not committed to a room (rooms=%v)", opener.rooms)
		}
		if p.RoomID != opener.rooms[0].ID {
			t.Fatalf("committed participant room = %q, want %q", p.RoomID, opener.rooms[0].ID)
		}
	}
}
