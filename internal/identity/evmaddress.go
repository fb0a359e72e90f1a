// Package identity provides validating value types for the two address
// families this orchestrator bridges, replacing the stringly-typed
// addresses of the source design with distinct, construction-checked
// types: EvmAddress and ActorPrincipal.
package identity

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// EvmAddress is a validated 20-byte EVM account address.
type EvmAddress struct {
	raw [20]byte
}

// ParseEvmAddress validates and parses a "0x"-prefixed hex address. It
// accepts both all-lowercase/all-uppercase addresses (checksum not
// applicable) and EIP-55 mixed-case addresses, but rejects a mixed-case
// address whose checksum does not match.
func ParseEvmAddress(s string) (EvmAddress, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) != 40 {
		return EvmAddress{}, fmt.Errorf("evm address must be 20 bytes hex, got %d chars", len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return EvmAddress{}, fmt.Errorf("invalid hex in evm address: %w", err)
	}

	lower := strings.ToLower(trimmed)
	upper := strings.ToUpper(trimmed)
	if trimmed != lower && trimmed != upper {
		if checksumEncode(lower) != trimmed {
			return EvmAddress{}, fmt.Errorf("evm address fails EIP-55 checksum: %s", s)
		}
	}

	var addr EvmAddress
	copy(addr.raw[:], raw)
	return addr, nil
}

// MustParseEvmAddress is ParseEvmAddress for call sites (tests, constant
// configuration) that already know the input is valid.
func MustParseEvmAddress(s string) EvmAddress {
	addr, err := ParseEvmAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// EvmAddressFromBytes wraps a raw 20-byte value, skipping hex validation.
func EvmAddressFromBytes(b []byte) (EvmAddress, error) {
	if len(b) != 20 {
		return EvmAddress{}, fmt.Errorf("evm address must be 20 bytes, got %d", len(b))
	}
	var addr EvmAddress
	copy(addr.raw[:], b)
	return addr, nil
}

// Bytes returns the raw 20-byte address.
func (a EvmAddress) Bytes() []byte {
	out := make([]byte, 20)
	copy(out, a.raw[:])
	return out
}

// IsZero reports whether this is the zero address (used as the "native
// token" sentinel throughout the adapter).
func (a EvmAddress) IsZero() bool {
	return a.raw == [20]byte{}
}

// String returns the EIP-55 checksummed textual form.
func (a EvmAddress) String() string {
	lower := hex.EncodeToString(a.raw[:])
	return "0x" + checksumEncode(lower)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func checksumEncode(lowerHex string) string {
	hash := hex.EncodeToString(keccak256([]byte(lowerHex)))
	var b strings.Builder
	b.Grow(len(lowerHex))
	for i, c := range lowerHex {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
			continue
		}
		if hash[i] >= '8' {
			b.WriteRune(c - 32) // to upper
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}
