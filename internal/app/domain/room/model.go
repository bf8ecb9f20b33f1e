// Package room defines the shuffle room state machine data.
package room

import "time"

// State is the lifecycle state of a room.
type State string

const (
	// StateForming exists only transiently while the queue manager builds
	// the room record; persisted rooms start in StateAwaitingRound.
	StateForming State = "forming"
	// StateAwaitingRound means the room is collecting submissions for
	// CurrentRound until Deadline.
	StateAwaitingRound State = "awaiting_round"
	// StateProcessing means the full submission set for CurrentRound is in
	// flight to the round engine; late submissions are rejected.
	StateProcessing State = "processing"
	// StateFinalizing means all rounds completed and the assignment is
	// being committed on-chain.
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// Terminal reports whether the state is final. Terminal rooms never accept
// submissions and never re-enter matching.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Room is a fixed group of participants jointly executing the shuffle.
// Members is set at formation and never mutates; its order is the canonical
// round-submission order and is independent of queue arrival order.
type Room struct {
	ID           string
	Token        string
	Amount       string
	Members      []string
	RoundCount   int
	CurrentRound int
	State        State
	Deadline     time.Time

	// Submissions maps round index to per-participant payloads. At most one
	// accepted payload per (round, participant).
	Submissions map[int]map[string][]byte

	// RoundInputs holds the engine output feeding CurrentRound, ordered by
	// Members. Empty for the first round.
	RoundInputs [][]byte

	// Assignment is the final unlinkable output list, ordered by Members.
	Assignment [][]byte

	TxHash           string
	FailureReason    string
	FinalizeAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberIndex returns the fixed position of a participant, or -1.
func (r *Room) MemberIndex(utxoID string) int {
	for i, id := range r.Members {
		if id == utxoID {
			return i
		}
	}
	return -1
}

// RoundSubmissions returns the payload map for a round, never nil.
func (r *Room) RoundSubmissions(round int) map[string][]byte {
	if r.Submissions == nil {
		return map[string][]byte{}
	}
	subs, ok := r.Submissions[round]
	if !ok {
		return map[string][]byte{}
	}
	return subs
}

// Record stores an accepted payload for (round, participant).
func (r *Room) Record(round int, utxoID string, payload []byte) {
	if r.Submissions == nil {
		r.Submissions = make(map[int]map[string][]byte)
	}
	if r.Submissions[round] == nil {
		r.Submissions[round] = make(map[string][]byte)
	}
	r.Submissions[round][utxoID] = payload
}

// RoundComplete reports whether every member submitted for the round.
func (r *Room) RoundComplete(round int) bool {
	return len(r.RoundSubmissions(round)) == len(r.Members)
}

// OrderedPayloads returns the round payloads in member order. The bool is
// false when any member has not submitted.
func (r *Room) OrderedPayloads(round int) ([][]byte, bool) {
	subs := r.RoundSubmissions(round)
	ordered := make([][]byte, 0, len(r.Members))
	for _, id := range r.Members {
		payload, ok := subs[id]
		if !ok {
			return nil, false
		}
		ordered = append(ordered, payload)
	}
	return ordered, true
}
