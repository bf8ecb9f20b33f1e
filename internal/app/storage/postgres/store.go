// Package postgres implements the storage interfaces backed by PostgreSQL.
// Entity bodies are stored as JSON values keyed by their natural ids, so the
// schema stays stable while the coordinator owns the value layout.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	"github.com/coin-shuffle/coordinator/internal/app/domain/queue"
	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/app/storage"
)

// Store implements the storage interfaces over a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.ParticipantStore = (*Store)(nil)
var _ storage.QueueStore = (*Store)(nil)
var _ storage.RoomStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- ParticipantStore --------------------------------------------------------

func (s *Store) CreateParticipant(ctx context.Context, p participant.Participant) (participant.Participant, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	value, err := json.Marshal(p)
	if err != nil {
		return participant.Participant{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shuffle_participants (utxo_id, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, p.UTXOID, value, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return participant.Participant{}, err
	}
	return p, nil
}

func (s *Store) UpdateParticipant(ctx context.Context, p participant.Participant) (participant.Participant, error) {
	existing, err := s.GetParticipant(ctx, p.UTXOID)
	if err != nil {
		return participant.Participant{}, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(p)
	if err != nil {
		return participant.Participant{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE shuffle_participants
		SET value = $2, updated_at = $3
		WHERE utxo_id = $1
	`, p.UTXOID, value, p.UpdatedAt)
	if err != nil {
		return participant.Participant{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return participant.Participant{}, fmt.Errorf("participant %s: %w", p.UTXOID, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, utxoID string) (participant.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM shuffle_participants WHERE utxo_id = $1
	`, utxoID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return participant.Participant{}, fmt.Errorf("participant %s: %w", utxoID, storage.ErrNotFound)
		}
		return participant.Participant{}, err
	}

	var p participant.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return participant.Participant{}, fmt.Errorf("decode participant %s: %w", utxoID, err)
	}
	return p, nil
}

// --- QueueStore --------------------------------------------------------------

func (s *Store) GetQueue(ctx context.Context, token, amount string) (queue.Queue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM shuffle_queues WHERE token = $1 AND amount = $2
	`, token, amount)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Queue{Token: token, Amount: amount}, nil
		}
		return queue.Queue{}, err
	}

	var q queue.Queue
	if err := json.Unmarshal(raw, &q); err != nil {
		return queue.Queue{}, fmt.Errorf("decode queue %s/%s: %w", token, amount, err)
	}
	return q, nil
}

func (s *Store) PutQueue(ctx context.Context, q queue.Queue) error {
	q.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(q)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shuffle_queues (token, amount, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token, amount) DO UPDATE SET value = $3, updated_at = $4
	`, q.Token, q.Amount, value, q.UpdatedAt)
	return err
}

// --- RoomStore ---------------------------------------------------------------

func (s *Store) CreateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	value, err := json.Marshal(r)
	if err != nil {
		return room.Room{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shuffle_rooms (id, state, deadline, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, string(r.State), r.Deadline, value, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return room.Room{}, err
	}
	return r, nil
}

func (s *Store) UpdateRoom(ctx context.Context, r room.Room) (room.Room, error) {
	r.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(r)
	if err != nil {
		return room.Room{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE shuffle_rooms
		SET state = $2, deadline = $3, value = $4, updated_at = $5
		WHERE id = $1
	`, r.ID, string(r.State), r.Deadline, value, r.UpdatedAt)
	if err != nil {
		return room.Room{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return room.Room{}, fmt.Errorf("room %s: %w", r.ID, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (room.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM shuffle_rooms WHERE id = $1
	`, id)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room.Room{}, fmt.Errorf("room %s: %w", id, storage.ErrNotFound)
		}
		return room.Room{}, err
	}

	return decodeRoom(raw, id)
}

func (s *Store) ListActiveRooms(ctx context.Context) ([]room.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, value FROM shuffle_rooms
		WHERE state NOT IN ('completed', 'failed', 'timed_out')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []room.Room
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		r, err := decodeRoom(raw, id)
		if err != nil {
			return nil, err
		}
		active = append(active, r)
	}
	return active, rows.Err()
}

func decodeRoom(raw []byte, id string) (room.Room, error) {
	var r room.Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return room.Room{}, fmt.Errorf("decode room %s: %w", id, err)
	}
	return r, nil
}
