package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"hash/crc32"
	"strings"

	"filippo.io/edwards25519"
)

// selfAuthenticatingSuffix marks a principal derived directly from a
// public key rather than assigned by a registry, matching the
// self-authenticating principal convention of the actor-chain.
const selfAuthenticatingSuffix = 0x02

// opaqueSuffix marks a principal assigned to a non-user execution unit
// (an escrow instance's own custody subaccount, a canister) rather than
// derived from a signing key, matching the actor-chain's distinction
// between self-authenticating and opaque-id principals.
const opaqueSuffix = 0x01

// principalEncoding is unpadded lowercase base32, the textual alphabet
// used by the actor-chain for principal rendering.
var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ActorPrincipal is a validated actor-chain principal: a self-
// authenticating identifier derived from an ed25519 public key, rendered
// textually as CRC32 checksum + payload, base32-encoded and grouped into
// dash-separated 5-character blocks.
type ActorPrincipal struct {
	raw []byte // sha224(pubkey) || 0x02, 29 bytes for self-authenticating principals
}

// OpaquePrincipalFromSeed derives a non-self-authenticating principal from
// arbitrary seed bytes (e.g. an escrow instance's hashlock), for identities
// that are assigned rather than held by a signing key — an escrow's own
// custody subaccount, or a canister-style execution unit.
func OpaquePrincipalFromSeed(seed []byte) ActorPrincipal {
	digest := sha256.Sum224(seed)
	raw := make([]byte, 0, len(digest)+1)
	raw = append(raw, digest[:]...)
	raw = append(raw, opaqueSuffix)
	return ActorPrincipal{raw: raw}
}

// PrincipalFromEd25519PublicKey derives a self-authenticating principal
// from a raw 32-byte ed25519 public key. The key is validated as a point
// on the curve before derivation so a malformed key never silently
// produces a principal no one could have signed for.
func PrincipalFromEd25519PublicKey(pubKey []byte) (ActorPrincipal, error) {
	if len(pubKey) != 32 {
		return ActorPrincipal{}, fmt.Errorf("ed25519 public key must be 32 bytes, got %d", len(pubKey))
	}
	if _, err := new(edwards25519.Point).SetBytes(pubKey); err != nil {
		return ActorPrincipal{}, fmt.Errorf("invalid ed25519 public key: %w", err)
	}

	digest := sha256.Sum224(pubKey)
	raw := make([]byte, 0, len(digest)+1)
	raw = append(raw, digest[:]...)
	raw = append(raw, selfAuthenticatingSuffix)

	return ActorPrincipal{raw: raw}, nil
}

// ParsePrincipal parses the dash-grouped textual form (e.g.
// "be2us-64aaa-aaaaa-qaabq-cai") back into an ActorPrincipal, verifying
// its embedded CRC32 checksum.
func ParsePrincipal(text string) (ActorPrincipal, error) {
	compact := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	decoded, err := principalEncoding.DecodeString(compact)
	if err != nil {
		return ActorPrincipal{}, fmt.Errorf("invalid principal encoding: %w", err)
	}
	if len(decoded) < 5 {
		return ActorPrincipal{}, fmt.Errorf("principal too short: %d bytes", len(decoded))
	}

	checksum, raw := decoded[:4], decoded[4:]
	want := crc32.ChecksumIEEE(raw)
	got := uint32(checksum[0])<<24 | uint32(checksum[1])<<16 | uint32(checksum[2])<<8 | uint32(checksum[3])
	if want != got {
		return ActorPrincipal{}, fmt.Errorf("principal checksum mismatch: got %08x want %08x", got, want)
	}

	return ActorPrincipal{raw: raw}, nil
}

// MustParsePrincipal is ParsePrincipal for call sites that already know
// the input is valid.
func MustParsePrincipal(text string) ActorPrincipal {
	p, err := ParsePrincipal(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns the raw principal bytes (without the CRC32 checksum).
func (p ActorPrincipal) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// IsZero reports whether this principal carries no bytes (the zero
// value, used as an "unset" sentinel).
func (p ActorPrincipal) IsZero() bool {
	return len(p.raw) == 0
}

// String renders the textual, dash-grouped, checksum-prefixed form.
func (p ActorPrincipal) String() string {
	if p.IsZero() {
		return ""
	}
	checksum := crc32.ChecksumIEEE(p.raw)
	blob := make([]byte, 0, 4+len(p.raw))
	blob = append(blob, byte(checksum>>24), byte(checksum>>16), byte(checksum>>8), byte(checksum))
	blob = append(blob, p.raw...)

	encoded := strings.ToLower(principalEncoding.EncodeToString(blob))
	var b strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 5
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// Equal reports whether two principals reference the same identity.
func (p ActorPrincipal) Equal(other ActorPrincipal) bool {
	return string(p.raw) == string(other.raw)
}
