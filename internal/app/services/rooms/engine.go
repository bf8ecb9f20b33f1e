// Package rooms drives the shuffle room state machine: collecting round
// submissions, advancing rounds through the round engine, and committing
// the final assignment through the finalizer.
package rooms

import (
	"context"

	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/apperr"
)

// RoundResult is the engine output for one completed round.
type RoundResult struct {
	// Payloads feed the next round, ordered by member position.
	Payloads [][]byte
	// Assignment is the final unlinkable output list, set only when the
	// protocol has run its last round.
	Assignment [][]byte
}

// Final reports whether the engine produced the terminal assignment.
func (r RoundResult) Final() bool { return r.Assignment != nil }

// Engine executes the cryptographic shuffle rounds. The coordinator treats
// payloads as opaque bytes; the engine owns their meaning.
type Engine interface {
	// Advance feeds the complete submission set for a round, ordered by
	// member position, and returns material for the next round or the final
	// assignment on the last round.
	Advance(ctx context.Context, roomID string, round int, payloads [][]byte) (RoundResult, error)
}

// Finalizer commits a completed room's output assignment on-chain.
// Implementations must tolerate retries: resubmitting the same assignment
// settles at most once at the contract.
type Finalizer interface {
	Finalize(ctx context.Context, r room.Room) (string, error)
}

// UnconfiguredFinalizer rejects settlement when no chain is wired. Meant for
// development setups without a node.
type UnconfiguredFinalizer struct{}

func (UnconfiguredFinalizer) Finalize(context.Context, room.Room) (string, error) {
	return "", apperr.New(apperr.CodeChainRejected, "settlement is not configured")
}
