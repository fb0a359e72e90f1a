// Package thresholdsig defines the client interface to the external
// threshold-ECDSA signing service and a LocalSigner test/dev
// implementation backed by a single secp256k1 keypair, used in place of
// the real canister-hosted service by unit tests and by
// resolverd -dev-local-signer.
package thresholdsig

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// KeyID names a threshold-ECDSA key held by the signing service, as a
// (name, derivation path) pair.
type KeyID struct {
	Name           string
	DerivationPath [][]byte
}

// Signature is a 64-byte (r || s) signature plus the recovery byte the
// signer reports. The EVM adapter uses only Bytes() and recomputes the
// recovery byte by trial.
type Signature struct {
	R, S [32]byte
	V    byte
}

// Bytes returns the 64-byte r||s encoding expected by RLP reassembly.
func (s Signature) Bytes() []byte {
	out := make([]byte, 64)
	copy(out[:32], s.R[:])
	copy(out[32:], s.S[:])
	return out
}

// Signer is the threshold-ECDSA service's external interface. Real
// deployments back this with a canister call; LocalSigner backs it with
// an ordinary secp256k1 key for development and tests.
type Signer interface {
	// PublicKey requests the Secp256k1 public key for a derivation path,
	// 33-byte compressed form.
	PublicKey(ctx context.Context, key KeyID) ([]byte, error)
	// Sign requests a signature over a 32-byte message hash.
	Sign(ctx context.Context, key KeyID, messageHash [32]byte) (Signature, error)
}

// LocalSigner implements Signer with a single in-memory secp256k1 key,
// distinct from the resolver's own operational (walletkeys) key so that
// the simulated signing service is never confused for the identity it
// signs on behalf of.
type LocalSigner struct {
	priv *secp256k1.PrivateKey
}

// NewLocalSigner derives a LocalSigner from 32 bytes of key material
// (e.g. a test fixture or a locally generated random seed).
func NewLocalSigner(seed [32]byte) *LocalSigner {
	priv := secp256k1.PrivKeyFromBytes(seed[:])
	return &LocalSigner{priv: priv}
}

func (s *LocalSigner) PublicKey(ctx context.Context, key KeyID) ([]byte, error) {
	return s.priv.PubKey().SerializeCompressed(), nil
}

func (s *LocalSigner) Sign(ctx context.Context, key KeyID, messageHash [32]byte) (Signature, error) {
	sig := ecdsa.SignCompact(s.priv, messageHash[:], false)
	// SignCompact returns [recoveryID+27, R(32), S(32)].
	if len(sig) != 65 {
		return Signature{}, fmt.Errorf("unexpected compact signature length %d", len(sig))
	}
	var out Signature
	copy(out.R[:], sig[1:33])
	copy(out.S[:], sig[33:65])
	out.V = sig[0] - 27
	return out, nil
}

// HashMessage is a convenience wrapper for callers that already have the
// pre-image and want the SHA-256 digest the signing service expects for
// non-EVM uses (the EVM signing path uses Keccak-256 instead, computed in
// the adapter).
func HashMessage(data []byte) [32]byte {
	return sha256.Sum256(data)
}
