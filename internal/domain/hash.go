package domain

import (
	"encoding/hex"
	"fmt"
)

const HashSize = 32

// Hash is a SHA-256 digest. The zero value is the genesis sentinel used as
// previous_hash of the first block.
type Hash [HashSize]byte

var GenesisHash Hash

func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHash(value string) (Hash, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash encoding: %w", err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}
