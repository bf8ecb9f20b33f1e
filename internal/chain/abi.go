package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const wordSize = 32

// Selector returns the 4-byte function selector for a canonical signature.
func Selector(signature string) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	return hash.Sum(nil)[:4]
}

// abiValue is one encoded argument. Static values occupy exactly one head
// word; dynamic values place an offset in the head and their payload in the
// tail.
type abiValue struct {
	static  []byte
	dynamic []byte
}

// Word returns a static 32-byte argument.
func Word(value *big.Int) abiValue {
	return abiValue{static: padWord(value.Bytes())}
}

// AddressWord returns a static argument holding a 20-byte address.
func AddressWord(address string) (abiValue, error) {
	raw, err := decodeAddress(address)
	if err != nil {
		return abiValue{}, err
	}
	return abiValue{static: padWord(raw)}, nil
}

// UintArray returns a dynamic uint256[] argument.
func UintArray(values []*big.Int) abiValue {
	out := make([]byte, 0, (len(values)+1)*wordSize)
	out = append(out, padWord(big.NewInt(int64(len(values))).Bytes())...)
	for _, v := range values {
		out = append(out, padWord(v.Bytes())...)
	}
	return abiValue{dynamic: out}
}

// BytesArray returns a dynamic bytes[] argument.
func BytesArray(items [][]byte) abiValue {
	head := make([]byte, 0, len(items)*wordSize)
	tail := make([]byte, 0)
	for _, item := range items {
		offset := big.NewInt(int64(len(items)*wordSize + len(tail)))
		head = append(head, padWord(offset.Bytes())...)
		tail = append(tail, padWord(big.NewInt(int64(len(item))).Bytes())...)
		tail = append(tail, padRight(item)...)
	}

	out := make([]byte, 0, wordSize+len(head)+len(tail))
	out = append(out, padWord(big.NewInt(int64(len(items))).Bytes())...)
	out = append(out, head...)
	out = append(out, tail...)
	return abiValue{dynamic: out}
}

// EncodeCall assembles selector plus ABI-encoded arguments into calldata.
func EncodeCall(selector []byte, args ...abiValue) string {
	headSize := len(args) * wordSize
	head := make([]byte, 0, headSize)
	tail := make([]byte, 0)

	for _, arg := range args {
		if arg.dynamic == nil {
			head = append(head, arg.static...)
			continue
		}
		offset := big.NewInt(int64(headSize + len(tail)))
		head = append(head, padWord(offset.Bytes())...)
		tail = append(tail, arg.dynamic...)
	}

	data := make([]byte, 0, len(selector)+len(head)+len(tail))
	data = append(data, selector...)
	data = append(data, head...)
	data = append(data, tail...)
	return "0x" + hex.EncodeToString(data)
}

// DecodeWords splits hex return data into 32-byte words.
func DecodeWords(data string) ([][]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode return data: %w", err)
	}
	if len(raw)%wordSize != 0 {
		return nil, fmt.Errorf("return data is %d bytes, not word aligned", len(raw))
	}
	words := make([][]byte, 0, len(raw)/wordSize)
	for i := 0; i < len(raw); i += wordSize {
		words = append(words, raw[i:i+wordSize])
	}
	return words, nil
}

// WordToAddress extracts the low 20 bytes of a word as a 0x address.
func WordToAddress(word []byte) string {
	return "0x" + hex.EncodeToString(word[wordSize-20:])
}

// WordToBig interprets a word as an unsigned big integer.
func WordToBig(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}

func padWord(b []byte) []byte {
	if len(b) > wordSize {
		b = b[len(b)-wordSize:]
	}
	out := make([]byte, wordSize)
	copy(out[wordSize-len(b):], b)
	return out
}

func padRight(b []byte) []byte {
	rem := len(b) % wordSize
	if rem == 0 {
		return append([]byte(nil), b...)
	}
	out := make([]byte, len(b)+wordSize-rem)
	copy(out, b)
	return out
}

func decodeAddress(address string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("address %q is %d bytes, want 20", address, len(raw))
	}
	return raw, nil
}
