// Package participant defines the registered UTXO holders taking part in a
// shuffle.
package participant

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Participant represents one registered UTXO waiting for, or assigned to, a
// shuffle room. The UTXO identifier doubles as the participant identity.
type Participant struct {
	UTXOID    string
	Token     string
	Amount    string
	PubKey    string
	RoomID    string
	Queued    bool
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// maxWordBits bounds UTXO ids and amounts to what the on-chain uint256
// representation can hold.
const maxWordBits = 256

// ParseUTXOID validates a decimal UTXO identifier and returns its numeric
// form. Identifiers are non-negative and must fit in 256 bits.
func ParseUTXOID(raw string) (*big.Int, error) {
	return parseWord(raw, "utxo id")
}

// ValidateAmount checks that a shuffle amount is a positive 256-bit decimal.
func ValidateAmount(raw string) error {
	value, err := parseWord(raw, "amount")
	if err != nil {
		return err
	}
	if value.Sign() == 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// NormalizeToken validates an ERC-20 token address and lowercases it so
// queue keys compare consistently.
func NormalizeToken(raw string) (string, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if len(token) != 42 || !strings.HasPrefix(token, "0x") {
		return "", fmt.Errorf("token address must be a 0x-prefixed 20-byte hex string")
	}
	for _, r := range token[2:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("token address contains non-hex character %q", r)
		}
	}
	return token, nil
}

func parseWord(raw, what string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", what)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a decimal integer", what)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", what)
	}
	if value.BitLen() > maxWordBits {
		return nil, fmt.Errorf("%s exceeds 256 bits", what)
	}
	return value, nil
}
