package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/coin-shuffle/coordinator/internal/app/domain/participant"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

var utxoSelector = Selector("utxos(uint256)")

// Verifier checks declared UTXOs against the shuffle contract before they
// may join a queue.
type Verifier struct {
	client   *Client
	contract string
	log      *logger.Logger
}

// NewVerifier creates a contract-backed UTXO verifier.
func NewVerifier(client *Client, contract string, log *logger.Logger) (*Verifier, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client required")
	}
	if _, err := decodeAddress(contract); err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("utxo-verifier")
	}
	return &Verifier{client: client, contract: contract, log: log}, nil
}

// VerifyUTXO reads the UTXO record on-chain and checks it matches the
// declared token and amount and is still unspent.
func (v *Verifier) VerifyUTXO(ctx context.Context, utxoID, token, amount, _ string) error {
	id, err := participant.ParseUTXOID(utxoID)
	if err != nil {
		return err
	}

	data := EncodeCall(utxoSelector, Word(id))
	result, err := v.client.CallContract(ctx, v.contract, data)
	if err != nil {
		return fmt.Errorf("read utxo %s: %w", utxoID, err)
	}

	// utxos(id) returns (address token, uint256 amount, address owner, bool spent).
	words, err := DecodeWords(result)
	if err != nil {
		return fmt.Errorf("utxo %s: %w", utxoID, err)
	}
	if len(words) < 4 {
		return fmt.Errorf("utxo %s: contract returned %d words, want 4", utxoID, len(words))
	}

	if WordToBig(words[1]).Sign() == 0 {
		return fmt.Errorf("utxo %s does not exist", utxoID)
	}
	onChainToken := WordToAddress(words[0])
	if !strings.EqualFold(onChainToken, token) {
		return fmt.Errorf("utxo %s holds token %s, not %s", utxoID, onChainToken, token)
	}
	if WordToBig(words[1]).String() != amount {
		return fmt.Errorf("utxo %s holds amount %s, not %s", utxoID, WordToBig(words[1]), amount)
	}
	if WordToBig(words[3]).Sign() != 0 {
		return fmt.Errorf("utxo %s is already spent", utxoID)
	}
	return nil
}
