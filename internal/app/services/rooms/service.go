package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/app/metrics"
	"github.com/coin-shuffle/coordinator/internal/app/services/tokens"
	"github.com/coin-shuffle/coordinator/internal/app/storage"
	"github.com/coin-shuffle/coordinator/internal/apperr"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

const (
	defaultRoundDeadline    = 2 * time.Minute
	defaultFinalizeAttempts = 3
	defaultFinalizeBackoff  = 2 * time.Second
)

// Config tunes the room state machine.
type Config struct {
	// RoundDeadline bounds how long each round may wait for submissions.
	RoundDeadline time.Duration
	// FinalizeAttempts caps settlement submissions per room.
	FinalizeAttempts int
	// FinalizeBackoff is the initial delay between settlement retries; it
	// doubles per attempt.
	FinalizeBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoundDeadline <= 0 {
		c.RoundDeadline = defaultRoundDeadline
	}
	if c.FinalizeAttempts <= 0 {
		c.FinalizeAttempts = defaultFinalizeAttempts
	}
	if c.FinalizeBackoff <= 0 {
		c.FinalizeBackoff = defaultFinalizeBackoff
	}
	return c
}

// Receipt summarises the room after a submission was accepted.
type Receipt struct {
	RoomID    string
	Round     int
	State     room.State
	Submitted int
	Members   int
	TxHash    string
}

// Status describes a participant's position in the protocol.
type Status struct {
	UTXOID        string
	Token         string
	Amount        string
	Queued        bool
	RoomID        string
	State         room.State
	Round         int
	RoundTotal    int
	Deadline      time.Time
	Submitted     bool
	Credential    string
	RoundInputs   [][]byte
	TxHash        string
	FailureReason string
}

// Service owns every room transition after formation. All slow calls, the
// round engine and the finalizer, run with the per-room lock released; the
// Processing and Finalizing states keep late submissions out meanwhile.
type Service struct {
	rooms        storage.RoomStore
	participants storage.ParticipantStore
	issuer       *tokens.Issuer
	engine       Engine
	finalizer    Finalizer
	cfg          Config
	log          *logger.Logger
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the room coordinator.
func NewService(roomStore storage.RoomStore, participantStore storage.ParticipantStore, issuer *tokens.Issuer, engine Engine, finalizer Finalizer, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rooms")
	}
	return &Service{
		rooms:        roomStore,
		participants: participantStore,
		issuer:       issuer,
		engine:       engine,
		finalizer:    finalizer,
		cfg:          cfg.withDefaults(),
		log:          log,
		now:          time.Now,
	}
}

// RoundDeadline exposes the configured per-round deadline.
func (s *Service) RoundDeadline() time.Duration { return s.cfg.RoundDeadline }

// Open creates a room for the matched member set. Member order is drawn
// fresh so that positions reveal nothing about queue arrival order. The
// caller persists queue changes only after Open returns.
func (s *Service) Open(ctx context.Context, token, amount string, members []string) (room.Room, error) {
	if len(members) == 0 {
		return room.Room{}, fmt.Errorf("room requires at least one member")
	}

	ordered, err := shuffleMembers(members)
	if err != nil {
		return room.Room{}, fmt.Errorf("shuffle member order: %w", err)
	}

	r := room.Room{
		ID:         uuid.NewString(),
		Token:      token,
		Amount:     amount,
		Members:    ordered,
		RoundCount: len(ordered),
		State:      room.StateAwaitingRound,
		Deadline:   s.now().Add(s.cfg.RoundDeadline),
	}

	created, err := s.rooms.CreateRoom(ctx, r)
	if err != nil {
		return room.Room{}, fmt.Errorf("create room: %w", err)
	}

	metrics.RecordRoomFormed()
	s.log.WithField("room_id", created.ID).
		WithField("token", token).
		WithField("amount", amount).
		WithField("members", len(ordered)).
		Info("room formed")
	return created, nil
}

// Submit validates a round credential and records the payload. When the
// submission completes the round's set, the round advances synchronously in
// this call: the engine runs, then either the next round opens or the final
// assignment goes to settlement.
func (s *Service) Submit(ctx context.Context, roomID, credential string, payload []byte) (Receipt, error) {
	claims, err := s.issuer.Verify(credential)
	if err != nil {
		return Receipt{}, err
	}
	if roomID != "" && claims.RoomID != roomID {
		return Receipt{}, apperr.New(apperr.CodeInvalidCredential, "credential was issued for a different room")
	}
	if len(payload) == 0 {
		return Receipt{}, apperr.New(apperr.CodeInvalidCredential, "submission payload is required")
	}

	lock := s.roomLock(claims.RoomID)
	lock.Lock()

	r, err := s.getRoom(ctx, claims.RoomID)
	if err != nil {
		lock.Unlock()
		return Receipt{}, err
	}

	if receiptErr := s.checkOpenLocked(ctx, &r, claims.Round); receiptErr != nil {
		lock.Unlock()
		return Receipt{}, receiptErr
	}

	idx := r.MemberIndex(claims.UTXOID)
	if idx < 0 {
		lock.Unlock()
		return Receipt{}, apperr.New(apperr.CodeInvalidCredential, "credential does not belong to this room")
	}
	if _, dup := r.RoundSubmissions(claims.Round)[claims.UTXOID]; dup {
		lock.Unlock()
		return Receipt{}, apperr.New(apperr.CodeDuplicateSubmission, "payload already recorded for this round")
	}

	r.Record(claims.Round, claims.UTXOID, payload)

	if !r.RoundComplete(claims.Round) {
		updated, err := s.rooms.UpdateRoom(ctx, r)
		lock.Unlock()
		if err != nil {
			return Receipt{}, fmt.Errorf("update room %s: %w", r.ID, err)
		}
		return s.receipt(updated), nil
	}

	return s.advanceLocked(ctx, lock, r, claims.Round)
}

// advanceLocked runs the engine for a completed round. It enters with the
// room lock held and returns with it released.
func (s *Service) advanceLocked(ctx context.Context, lock *sync.Mutex, r room.Room, round int) (Receipt, error) {
	roomID := r.ID
	roundStart := r.Deadline.Add(-s.cfg.RoundDeadline)

	r.State = room.StateProcessing
	r, err := s.rooms.UpdateRoom(ctx, r)
	if err != nil {
		lock.Unlock()
		return Receipt{}, fmt.Errorf("update room %s: %w", roomID, err)
	}
	lock.Unlock()

	payloads, ok := r.OrderedPayloads(round)
	if !ok {
		return Receipt{}, fmt.Errorf("room %s round %d missing payloads", roomID, round)
	}

	result, engineErr := s.engine.Advance(ctx, roomID, round, payloads)

	lock.Lock()
	r, err = s.getRoom(ctx, roomID)
	if err != nil {
		lock.Unlock()
		return Receipt{}, err
	}
	metrics.RecordRoundDuration(s.now().Sub(roundStart))

	if engineErr != nil {
		s.closeLocked(ctx, &r, room.StateFailed, fmt.Sprintf("round %d engine error: %v", round, engineErr))
		lock.Unlock()
		return Receipt{}, fmt.Errorf("advance round %d: %w", round, engineErr)
	}

	if round+1 == r.RoundCount {
		if len(result.Assignment) != len(r.Members) {
			reason := fmt.Sprintf("engine returned %d outputs for %d members", len(result.Assignment), len(r.Members))
			s.closeLocked(ctx, &r, room.StateFailed, reason)
			lock.Unlock()
			return Receipt{}, fmt.Errorf("advance round %d: %s", round, reason)
		}
		r.Assignment = result.Assignment
		r.RoundInputs = nil
		r.State = room.StateFinalizing
		r, err = s.rooms.UpdateRoom(ctx, r)
		lock.Unlock()
		if err != nil {
			return Receipt{}, fmt.Errorf("update room %s: %w", roomID, err)
		}

		if err := s.settle(ctx, roomID); err != nil {
			return Receipt{}, err
		}
		settled, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return Receipt{}, fmt.Errorf("load room %s: %w", roomID, err)
		}
		return s.receipt(settled), nil
	}

	if len(result.Payloads) != len(r.Members) {
		reason := fmt.Sprintf("engine returned %d payloads for %d members", len(result.Payloads), len(r.Members))
		s.closeLocked(ctx, &r, room.StateFailed, reason)
		lock.Unlock()
		return Receipt{}, fmt.Errorf("advance round %d: %s", round, reason)
	}

	r.CurrentRound = round + 1
	r.RoundInputs = result.Payloads
	r.State = room.StateAwaitingRound
	r.Deadline = s.now().Add(s.cfg.RoundDeadline)
	r, err = s.rooms.UpdateRoom(ctx, r)
	lock.Unlock()
	if err != nil {
		return Receipt{}, fmt.Errorf("update room %s: %w", roomID, err)
	}

	s.log.WithField("room_id", r.ID).
		WithField("round", r.CurrentRound).
		Info("round advanced")
	return s.receipt(r), nil
}

// settle drives the finalizer with bounded exponential backoff. Transient
// errors retry; a ChainRejected error stops immediately.
func (s *Service) settle(ctx context.Context, roomID string) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	r, err := s.getRoom(ctx, roomID)
	if err != nil || r.State != room.StateFinalizing {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.cfg.FinalizeAttempts; attempt++ {
		attempts = attempt
		txHash, err := s.finalizer.Finalize(ctx, r)
		if err == nil {
			metrics.RecordFinalizeAttempt("success")
			return s.complete(ctx, roomID, txHash, attempts)
		}

		lastErr = err
		if apperr.CodeOf(err) == apperr.CodeChainRejected {
			metrics.RecordFinalizeAttempt("rejected")
			s.log.WithError(err).WithField("room_id", roomID).Warn("settlement rejected")
			break
		}

		metrics.RecordFinalizeAttempt("transient")
		s.log.WithError(err).
			WithField("room_id", roomID).
			WithField("attempt", attempt).
			Warn("settlement attempt failed")

		if attempt < s.cfg.FinalizeAttempts {
			if err := sleepCtx(ctx, s.cfg.FinalizeBackoff<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
	}

	lock.Lock()
	r, err = s.getRoom(ctx, roomID)
	if err == nil && r.State == room.StateFinalizing {
		r.FinalizeAttempts = attempts
		s.closeLocked(ctx, &r, room.StateFailed, fmt.Sprintf("settlement failed: %v", lastErr))
	}
	lock.Unlock()

	if apperr.CodeOf(lastErr) == apperr.CodeChainRejected {
		return lastErr
	}
	return apperr.Wrap(apperr.CodeChainRejected, fmt.Sprintf("settlement failed after %d attempts", attempts), lastErr)
}

func (s *Service) complete(ctx context.Context, roomID, txHash string, attempts int) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	r, err := s.getRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.State != room.StateFinalizing {
		return nil
	}

	r.State = room.StateCompleted
	r.TxHash = txHash
	r.FinalizeAttempts = attempts
	if _, err := s.rooms.UpdateRoom(ctx, r); err != nil {
		return fmt.Errorf("update room %s: %w", r.ID, err)
	}

	metrics.RecordRoomClosed(string(room.StateCompleted))
	s.archiveMembers(ctx, r)
	s.dropLock(r.ID)
	s.log.WithField("room_id", r.ID).
		WithField("tx_hash", txHash).
		WithField("attempts", attempts).
		Info("room completed")
	return nil
}

// Status reports where a participant stands. For an open round the response
// carries a fresh credential; tokens are never stored server side.
func (s *Service) Status(ctx context.Context, utxoID string) (Status, error) {
	p, err := s.participants.GetParticipant(ctx, utxoID)
	if err != nil {
		if errorsIsNotFound(err) {
			return Status{}, apperr.New(apperr.CodeNotQueued, "participant is not registered")
		}
		return Status{}, fmt.Errorf("load participant %s: %w", utxoID, err)
	}

	st := Status{
		UTXOID: p.UTXOID,
		Token:  p.Token,
		Amount: p.Amount,
		Queued: p.Queued,
		RoomID: p.RoomID,
	}
	if p.RoomID == "" {
		return st, nil
	}

	lock := s.roomLock(p.RoomID)
	lock.Lock()
	defer lock.Unlock()

	r, err := s.getRoom(ctx, p.RoomID)
	if err != nil {
		return Status{}, err
	}

	st.State = r.State
	st.Round = r.CurrentRound
	st.RoundTotal = r.RoundCount
	st.Deadline = r.Deadline
	st.TxHash = r.TxHash
	st.FailureReason = r.FailureReason
	_, st.Submitted = r.RoundSubmissions(r.CurrentRound)[utxoID]

	if r.State == room.StateAwaitingRound && !st.Submitted && r.MemberIndex(utxoID) >= 0 {
		credential, err := s.issuer.Issue(r.ID, r.CurrentRound, utxoID)
		if err != nil {
			return Status{}, fmt.Errorf("issue credential: %w", err)
		}
		st.Credential = credential
		st.RoundInputs = r.RoundInputs
	}
	return st, nil
}

// ExpireDeadlines times out rooms whose round deadline passed without a full
// submission set. The engine is never consulted for a partial set. Returns
// the number of rooms closed.
func (s *Service) ExpireDeadlines(ctx context.Context) (int, error) {
	active, err := s.rooms.ListActiveRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active rooms: %w", err)
	}

	expired := 0
	for _, candidate := range active {
		if candidate.State != room.StateAwaitingRound || !s.now().After(candidate.Deadline) {
			continue
		}

		lock := s.roomLock(candidate.ID)
		lock.Lock()
		r, err := s.getRoom(ctx, candidate.ID)
		if err != nil {
			lock.Unlock()
			s.log.WithError(err).WithField("room_id", candidate.ID).Warn("expire: load room failed")
			continue
		}
		if r.State == room.StateAwaitingRound && s.now().After(r.Deadline) {
			s.closeLocked(ctx, &r, room.StateTimedOut, fmt.Sprintf("round %d deadline passed with %d of %d submissions",
				r.CurrentRound, len(r.RoundSubmissions(r.CurrentRound)), len(r.Members)))
			expired++
		}
		lock.Unlock()
	}
	return expired, nil
}

// Recover resumes settlement for rooms left finalizing across a restart.
func (s *Service) Recover(ctx context.Context) error {
	active, err := s.rooms.ListActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("list active rooms: %w", err)
	}
	for _, r := range active {
		if r.State != room.StateFinalizing {
			continue
		}
		s.log.WithField("room_id", r.ID).Info("resuming settlement")
		if err := s.settle(ctx, r.ID); err != nil {
			s.log.WithError(err).WithField("room_id", r.ID).Warn("resumed settlement failed")
		}
	}
	return nil
}

// checkOpenLocked rejects submissions a room cannot accept. Holding the room
// lock, it also times out a room whose deadline already passed so clients
// never race the sweeper for the answer.
func (s *Service) checkOpenLocked(ctx context.Context, r *room.Room, round int) error {
	switch r.State {
	case room.StateTimedOut:
		return apperr.New(apperr.CodeTimeout, "room timed out")
	case room.StateCompleted, room.StateFailed:
		return apperr.New(apperr.CodeRoomNotFound, "room is closed")
	case room.StateProcessing, room.StateFinalizing:
		return apperr.New(apperr.CodeRoundClosed, "round is no longer accepting submissions")
	}
	if round != r.CurrentRound {
		return apperr.Newf(apperr.CodeRoundClosed, "credential is for round %d, room is on round %d", round, r.CurrentRound)
	}
	if s.now().After(r.Deadline) {
		s.closeLocked(ctx, r, room.StateTimedOut, fmt.Sprintf("round %d deadline passed with %d of %d submissions",
			r.CurrentRound, len(r.RoundSubmissions(r.CurrentRound)), len(r.Members)))
		return apperr.New(apperr.CodeTimeout, "room timed out")
	}
	return nil
}

// closeLocked moves a room to a terminal state and archives its members.
// Callers hold the room lock.
func (s *Service) closeLocked(ctx context.Context, r *room.Room, state room.State, reason string) {
	r.State = state
	r.FailureReason = reason
	updated, err := s.rooms.UpdateRoom(ctx, *r)
	if err != nil {
		s.log.WithError(err).WithField("room_id", r.ID).Error("persist terminal room failed")
		return
	}
	*r = updated

	metrics.RecordRoomClosed(string(state))
	s.archiveMembers(ctx, updated)
	s.dropLock(r.ID)
	s.log.WithField("room_id", r.ID).
		WithField("state", string(state)).
		WithField("reason", reason).
		Info("room closed")
}

// archiveMembers releases participants from a terminal room so their UTXO
// ids may register again explicitly.
func (s *Service) archiveMembers(ctx context.Context, r room.Room) {
	for _, id := range r.Members {
		p, err := s.participants.GetParticipant(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("utxo_id", id).Warn("archive: load participant failed")
			continue
		}
		p.Archived = true
		p.Queued = false
		if _, err := s.participants.UpdateParticipant(ctx, p); err != nil {
			s.log.WithError(err).WithField("utxo_id", id).Warn("archive: update participant failed")
		}
	}
}

func (s *Service) receipt(r room.Room) Receipt {
	return Receipt{
		RoomID:    r.ID,
		Round:     r.CurrentRound,
		State:     r.State,
		Submitted: len(r.RoundSubmissions(r.CurrentRound)),
		Members:   len(r.Members),
		TxHash:    r.TxHash,
	}
}

func (s *Service) getRoom(ctx context.Context, id string) (room.Room, error) {
	r, err := s.rooms.GetRoom(ctx, id)
	if err != nil {
		if errorsIsNotFound(err) {
			return room.Room{}, apperr.New(apperr.CodeRoomNotFound, "room not found")
		}
		return room.Room{}, fmt.Errorf("load room %s: %w", id, err)
	}
	return r, nil
}

func (s *Service) roomLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Service) dropLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// shuffleMembers returns a uniformly random permutation drawn from
// crypto/rand.
func shuffleMembers(members []string) ([]string, error) {
	out := append([]string(nil), members...)
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(n.Int64())
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
