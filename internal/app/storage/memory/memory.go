// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	"github.com/coin-shuffle/coordinator/internal/app/domain/queue"
	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/app/storage"
)

// Store keeps all coordinator entities in process memory.
type Store struct {
	mu           sync.RWMutex
	participants map[string]participant.Participant
	queues       map[string]queue.Queue
	rooms        map[string]room.Room
	roomOrder    []string
}

var _ storage.ParticipantStore = (*Store)(nil)
var _ storage.QueueStore = (*Store)(nil)
var _ storage.RoomStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		participants: make(map[string]participant.Participant),
		queues:       make(map[string]queue.Queue),
		rooms:        make(map[string]room.Room),
	}
}

// ParticipantStore implementation ---------------------------------------------

func (s *Store) CreateParticipant(_ context.Context, p participant.Participant) (participant.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.participants[p.UTXOID]; exists {
		return participant.Participant{}, fmt.Errorf("participant %s already exists", p.UTXOID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.participants[p.UTXOID] = p
	return p, nil
}

func (s *Store) UpdateParticipant(_ context.Context, p participant.Participant) (participant.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.participants[p.UTXOID]
	if !ok {
		return participant.Participant{}, fmt.Errorf("participant %s: %w", p.UTXOID, storage.ErrNotFound)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.participants[p.UTXOID] = p
	return p, nil
}

func (s *Store) GetParticipant(_ context.Context, utxoID string) (participant.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[utxoID]
	if !ok {
		return participant.Participant{}, fmt.Errorf("participant %s: %w", utxoID, storage.ErrNotFound)
	}
	return p, nil
}

// QueueStore implementation ----------------------------------------------------

func (s *Store) GetQueue(_ context.Context, token, amount string) (queue.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[queue.Key(token, amount)]
	if !ok {
		return queue.Queue{Token: token, Amount: amount}, nil
	}
	return cloneQueue(q), nil
}

func (s *Store) PutQueue(_ context.Context, q queue.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q.UpdatedAt = time.Now().UTC()
	s.queues[queue.Key(q.Token, q.Amount)] = cloneQueue(q)
	return nil
}

// RoomStore implementation -----------------------------------------------------

func (s *Store) CreateRoom(_ context.Context, r room.Room) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[r.ID]; exists {
		return room.Room{}, fmt.Errorf("room %s already exists", r.ID)
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rooms[r.ID] = cloneRoom(r)
	s.roomOrder = append(s.roomOrder, r.ID)
	return r, nil
}

func (s *Store) UpdateRoom(_ context.Context, r room.Room) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rooms[r.ID]
	if !ok {
		return room.Room{}, fmt.Errorf("room %s: %w", r.ID, storage.ErrNotFound)
	}

	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.rooms[r.ID] = cloneRoom(r)
	return r, nil
}

func (s *Store) GetRoom(_ context.Context, id string) (room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return room.Room{}, fmt.Errorf("room %s: %w", id, storage.ErrNotFound)
	}
	return cloneRoom(r), nil
}

func (s *Store) ListActiveRooms(_ context.Context) ([]room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []room.Room
	for _, id := range s.roomOrder {
		r := s.rooms[id]
		if !r.State.Terminal() {
			active = append(active, cloneRoom(r))
		}
	}
	return active, nil
}

// Clone helpers keep callers from mutating shared state through returned
// slices and maps.

func cloneQueue(q queue.Queue) queue.Queue {
	out := q
	out.Members = append([]string(nil), q.Members...)
	return out
}

func cloneRoom(r room.Room) room.Room {
	out := r
	out.Members = append([]string(nil), r.Members...)
	if r.Submissions != nil {
		out.Submissions = make(map[int]map[string][]byte, len(r.Submissions))
		for round, subs := range r.Submissions {
			copied := make(map[string][]byte, len(subs))
			for id, payload := range subs {
				copied[id] = append([]byte(nil), payload...)
			}
			out.Submissions[round] = copied
		}
	}
	out.RoundInputs = cloneByteSlices(r.RoundInputs)
	out.Assignment = cloneByteSlices(r.Assignment)
	return out
}

func cloneByteSlices(in [][]byte) [][]byte {
	if in == nil {
		return nil
	}
	out := make([][]byte, len(in))
	for i, entry := range in {
		out[i] = append([]byte(nil), entry...)
	}
	return out
}
