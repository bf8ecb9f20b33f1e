// Package queue matches registered participants into shuffle rooms by
// (token, amount) pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	domain "github.com/coin-shuffle/coordinator/internal/app/domain/queue"
	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/app/metrics"
	"github.com/coin-shuffle/coordinator/internal/app/storage"
	"github.com/coin-shuffle/coordinator/internal/apperr"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

const defaultMinRoomSize = 3

// RoomOpener forms a room for a matched member set. The room record must be
// durable before the opener returns.
type RoomOpener interface {
	Open(ctx context.Context, token, amount string, members []string) (room.Room, error)
}

// Verifier checks a declared UTXO against the chain before it may queue.
// A nil verifier skips the check.
type Verifier interface {
	VerifyUTXO(ctx context.Context, utxoID, token, amount, pubKey string) error
}

// Config tunes matching.
type Config struct {
	// MinRoomSize is how many participants a pool must hold before a room
	// forms. Applies to every pool.
	MinRoomSize int
}

func (c Config) withDefaults() Config {
	if c.MinRoomSize <= 0 {
		c.MinRoomSize = defaultMinRoomSize
	}
	return c
}

// EnqueueRequest registers one UTXO for mixing.
type EnqueueRequest struct {
	UTXOID string
	Token  string
	Amount string
	PubKey string
}

// Service owns the waiting queues. All queue reads and writes for one
// (token, amount) key run under that key's lock, so at most one room can
// form per accepted registration.
type Service struct {
	participants storage.ParticipantStore
	queues       storage.QueueStore
	opener       RoomOpener
	verifier     Verifier
	cfg          Config
	log          *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the queue manager. verifier may be nil.
func NewService(participants storage.ParticipantStore, queues storage.QueueStore, opener RoomOpener, verifier Verifier, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("queue")
	}
	return &Service{
		participants: participants,
		queues:       queues,
		opener:       opener,
		verifier:     verifier,
		cfg:          cfg.withDefaults(),
		log:          log,
	}
}

// Enqueue registers a participant and, when its pool reaches the room size,
// forms a room from the oldest waiting entries. The returned room is non-nil
// only when this registration completed one.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (participant.Participant, *room.Room, error) {
	if _, err := participant.ParseUTXOID(req.UTXOID); err != nil {
		return participant.Participant{}, nil, err
	}
	if err := participant.ValidateAmount(req.Amount); err != nil {
		return participant.Participant{}, nil, err
	}
	token, err := participant.NormalizeToken(req.Token)
	if err != nil {
		return participant.Participant{}, nil, err
	}

	if s.verifier != nil {
		if err := s.verifier.VerifyUTXO(ctx, req.UTXOID, token, req.Amount, req.PubKey); err != nil {
			return participant.Participant{}, nil, fmt.Errorf("verify utxo %s: %w", req.UTXOID, err)
		}
	}

	lock := s.keyLock(token, req.Amount)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.registerLocked(ctx, req, token)
	if err != nil {
		return participant.Participant{}, nil, err
	}

	q, err := s.queues.GetQueue(ctx, token, req.Amount)
	if err != nil {
		return participant.Participant{}, nil, fmt.Errorf("load queue: %w", err)
	}
	if q.Contains(p.UTXOID) {
		return participant.Participant{}, nil, apperr.New(apperr.CodeAlreadyQueued, "utxo is already waiting")
	}
	q.Members = append(q.Members, p.UTXOID)

	if len(q.Members) < s.cfg.MinRoomSize {
		if err := s.queues.PutQueue(ctx, q); err != nil {
			return participant.Participant{}, nil, fmt.Errorf("store queue: %w", err)
		}
		metrics.SetQueueDepth(token, req.Amount, len(q.Members))
		s.log.WithField("utxo_id", p.UTXOID).
			WithField("token", token).
			WithField("amount", req.Amount).
			WithField("waiting", len(q.Members)).
			Info("participant queued")
		return p, nil, nil
	}

	formed, err := s.formLocked(ctx, &q)
	if err != nil {
		return participant.Participant{}, nil, err
	}
	if formed.MemberIndex(p.UTXOID) >= 0 {
		p.Queued = false
		p.RoomID = formed.ID
	}
	return p, &formed, nil
}

// formLocked opens a room from the oldest waiting entries and shrinks the
// queue. The room record is persisted before the queue so a crash between
// the two writes leaves members matched, never lost.
func (s *Service) formLocked(ctx context.Context, q *domain.Queue) (room.Room, error) {
	members := append([]string(nil), q.Members[:s.cfg.MinRoomSize]...)

	formed, err := s.opener.Open(ctx, q.Token, q.Amount, members)
	if err != nil {
		return room.Room{}, fmt.Errorf("open room: %w", err)
	}

	q.Members = append([]string(nil), q.Members[s.cfg.MinRoomSize:]...)
	if err := s.queues.PutQueue(ctx, *q); err != nil {
		return room.Room{}, fmt.Errorf("store queue: %w", err)
	}
	metrics.SetQueueDepth(q.Token, q.Amount, len(q.Members))

	for _, id := range members {
		member, err := s.participants.GetParticipant(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("utxo_id", id).Warn("assign room: load participant failed")
			continue
		}
		member.Queued = false
		member.RoomID = formed.ID
		if _, err := s.participants.UpdateParticipant(ctx, member); err != nil {
			s.log.WithError(err).WithField("utxo_id", id).Warn("assign room: update participant failed")
		}
	}
	return formed, nil
}

// registerLocked creates or revives the participant record. A UTXO released
// by a finished room may register again; an active one may not.
func (s *Service) registerLocked(ctx context.Context, req EnqueueRequest, token string) (participant.Participant, error) {
	existing, err := s.participants.GetParticipant(ctx, req.UTXOID)
	switch {
	case err == nil && !existing.Archived:
		return participant.Participant{}, apperr.New(apperr.CodeAlreadyQueued, "utxo is already registered")
	case err == nil:
		existing.Token = token
		existing.Amount = req.Amount
		existing.PubKey = req.PubKey
		existing.RoomID = ""
		existing.Queued = true
		existing.Archived = false
		revived, err := s.participants.UpdateParticipant(ctx, existing)
		if err != nil {
			return participant.Participant{}, fmt.Errorf("revive participant: %w", err)
		}
		return revived, nil
	case errors.Is(err, storage.ErrNotFound):
		created, err := s.participants.CreateParticipant(ctx, participant.Participant{
			UTXOID: req.UTXOID,
			Token:  token,
			Amount: req.Amount,
			PubKey: req.PubKey,
			Queued: true,
		})
		if err != nil {
			return participant.Participant{}, fmt.Errorf("create participant: %w", err)
		}
		return created, nil
	default:
		return participant.Participant{}, fmt.Errorf("load participant: %w", err)
	}
}

// Withdraw removes a waiting participant from its queue. Once a room has
// formed the member is committed and withdrawal is refused.
func (s *Service) Withdraw(ctx context.Context, utxoID string) error {
	p, err := s.participants.GetParticipant(ctx, utxoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.CodeNotQueued, "utxo is not registered")
		}
		return fmt.Errorf("load participant: %w", err)
	}
	if !p.Queued {
		return apperr.New(apperr.CodeNotQueued, "utxo is not waiting in a queue")
	}

	lock := s.keyLock(p.Token, p.Amount)
	lock.Lock()
	defer lock.Unlock()

	// The participant may have been matched between the read above and
	// taking the key lock. Re-read under the lock before touching the queue.
	p, err = s.participants.GetParticipant(ctx, utxoID)
	if err != nil {
		return fmt.Errorf("load participant: %w", err)
	}
	if !p.Queued {
		return apperr.New(apperr.CodeNotQueued, "utxo is not waiting in a queue")
	}

	q, err := s.queues.GetQueue(ctx, p.Token, p.Amount)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if !q.Contains(utxoID) {
		return apperr.New(apperr.CodeNotQueued, "utxo is not waiting in a queue")
	}

	q.Members = q.Remove(utxoID)
	if err := s.queues.PutQueue(ctx, q); err != nil {
		return fmt.Errorf("store queue: %w", err)
	}
	metrics.SetQueueDepth(p.Token, p.Amount, len(q.Members))

	p.Queued = false
	p.Archived = true
	if _, err := s.participants.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("update participant: %w", err)
	}

	s.log.WithField("utxo_id", utxoID).
		WithField("token", p.Token).
		WithField("amount", p.Amount).
		Info("participant withdrew")
	return nil
}

func (s *Service) keyLock(token, amount string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	key := domain.Key(token, amount)
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}
