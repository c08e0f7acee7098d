// Package types contains shared type definitions used across multiple packages
package types

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is an opaque account identifier: an owner, a delegate, an admin,
// a custody account or a withdrawal destination.
type Identity string

// ErrEmptyIdentity is returned when an identity string is blank
var ErrEmptyIdentity = errors.New("identity must not be empty")

// ParseIdentity trims and canonicalises an identity. Hex addresses are
// normalised to their EIP-55 checksum form so that the same account always
// maps to the same key.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyIdentity
	}
	if common.IsHexAddress(s) {
		return Identity(common.HexToAddress(s).Hex()), nil
	}
	return Identity(s), nil
}

// MustParseIdentity is ParseIdentity for literals in tests and fixtures
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the identity is unset
func (id Identity) IsZero() bool {
	return id == ""
}

// IsHexAddress reports whether the identity is a 20-byte hex address
func (id Identity) IsHexAddress() bool {
	return common.IsHexAddress(string(id))
}

// Bytes returns the raw address bytes for hex addresses and the UTF-8 bytes otherwise
func (id Identity) Bytes() []byte {
	if id.IsHexAddress() {
		return common.HexToAddress(string(id)).Bytes()
	}
	return []byte(id)
}

func (id Identity) String() string {
	return string(id)
}
