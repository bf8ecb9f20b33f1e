package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	"github.com/coin-shuffle/coordinator/internal/app/domain/room"
	"github.com/coin-shuffle/coordinator/internal/apperr"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

var shuffleSelector = Selector("shuffle(address,uint256,uint256[],bytes[])")

// Finalizer commits completed rooms to the shuffle contract through a node
// holding the coordinator's account.
type Finalizer struct {
	client   *Client
	contract string
	from     string
	log      *logger.Logger
}

// NewFinalizer creates a settlement submitter for the given contract.
func NewFinalizer(client *Client, contract, from string, log *logger.Logger) (*Finalizer, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client required")
	}
	if _, err := decodeAddress(contract); err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	if _, err := decodeAddress(from); err != nil {
		return nil, fmt.Errorf("coordinator address: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("finalizer")
	}
	return &Finalizer{client: client, contract: contract, from: from, log: log}, nil
}

// Finalize submits the room's output assignment. A JSON-RPC error object
// means the contract or node rejected the call and retrying the same inputs
// cannot help; those come back as ChainRejected. Transport failures come
// back plain so callers may retry.
func (f *Finalizer) Finalize(ctx context.Context, r room.Room) (string, error) {
	data, err := f.calldata(r)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeChainRejected, "encode settlement", err)
	}

	txHash, err := f.client.SendTransaction(ctx, f.from, f.contract, data)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", apperr.Wrap(apperr.CodeChainRejected, "settlement rejected by chain", err)
		}
		return "", fmt.Errorf("send settlement: %w", err)
	}

	f.log.WithField("room_id", r.ID).
		WithField("tx_hash", txHash).
		Info("settlement submitted")
	return txHash, nil
}

func (f *Finalizer) calldata(r room.Room) (string, error) {
	token, err := AddressWord(r.Token)
	if err != nil {
		return "", err
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return "", fmt.Errorf("amount %q is not a decimal integer", r.Amount)
	}

	ids := make([]*big.Int, 0, len(r.Members))
	for _, member := range r.Members {
		id, err := participant.ParseUTXOID(member)
		if err != nil {
			return "", err
		}
		ids = append(ids, id)
	}

	if len(r.Assignment) != len(r.Members) {
		return "", fmt.Errorf("assignment holds %d outputs for %d members", len(r.Assignment), len(r.Members))
	}

	return EncodeCall(shuffleSelector, token, Word(amount), UintArray(ids), BytesArray(r.Assignment)), nil
}
