package core

import (
	"encoding/hex"
	"fmt"

	"github.com/ledgerline/ledgerd/core/crypto"
)

// Hash is a 32-byte content hash.
type Hash [crypto.HashLength]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("parse hash %q: expected %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// BlockID names a block and, transitively, the world state that results from applying it.
type BlockID = Hash

func ParseBlockID(s string) (BlockID, error) {
	return ParseHash(s)
}
