package storage

import (
	"context"
	"errors"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	"github.com/coin-shuffle/coordinator/internal/app/domain/queue"
	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
)

// ErrNotFound marks missing entities across store implementations. Callers
// test with errors.Is.
var ErrNotFound = errors.New("not found")

// ParticipantStore persists participant records keyed by UTXO id.
type ParticipantStore interface {
	CreateParticipant(ctx context.Context, p participant.Participant) (participant.Participant, error)
	UpdateParticipant(ctx context.Context, p participant.Participant) (participant.Participant, error)
	GetParticipant(ctx context.Context, utxoID string) (participant.Participant, error)
}

// QueueStore persists waiting queues keyed by (token, amount). Writers
// serialise access per key at the service layer; the store only provides
// whole-record reads and writes.
type QueueStore interface {
	// GetQueue returns the queue for the key, or an empty queue when none
	// exists yet.
	GetQueue(ctx context.Context, token, amount string) (queue.Queue, error)
	PutQueue(ctx context.Context, q queue.Queue) error
}

// RoomStore persists room records keyed by room id.
type RoomStore interface {
	CreateRoom(ctx context.Context, r room.Room) (room.Room, error)
	UpdateRoom(ctx context.Context, r room.Room) (room.Room, error)
	GetRoom(ctx context.Context, id string) (room.Room, error)
	// ListActiveRooms returns rooms not yet in a terminal state.
	ListActiveRooms(ctx context.Context) ([]room.Room, error)
}
