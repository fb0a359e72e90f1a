// Package walletkeys derives the resolver operator's two operational
// keypairs — an EVM secp256k1 signing key and an actor-chain ed25519
// principal key — from a single BIP39 mnemonic, so one backed-up
// phrase recovers both chain identities. Real deployments route EVM
// signing through internal/thresholdsig instead of this local key; it
// exists for local development and for deriving the actor-chain identity,
// which has no threshold-signing analogue in this design.
package walletkeys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
)

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// hardenedOffset marks a BIP32 child index as hardened.
const hardenedOffset = 0x80000000

// evmDerivationPath is m/44'/60'/0'/0/0, the standard single-account EVM
// derivation path (BIP44, coin type 60).
var evmDerivationPath = []uint32{44 + hardenedOffset, 60 + hardenedOffset, 0 + hardenedOffset, 0, 0}

// actorDerivationPath is m/44'/223'/0', dedicated to the actor-chain
// identity; every step is hardened because ed25519 HD derivation
// (SLIP-0010) only supports hardened children.
var actorDerivationPath = []uint32{44 + hardenedOffset, 223 + hardenedOffset, 0 + hardenedOffset}

// KeySet holds the resolver operator's derived operational keys.
type KeySet struct {
	EvmPrivateKey    *btcec.PrivateKey
	EvmAddress       identity.EvmAddress
	ActorPrivateKey  ed25519.PrivateKey
	ActorPrincipal   identity.ActorPrincipal
}

// GenerateMnemonic returns a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether the mnemonic has a valid BIP39
// checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// DeriveKeySet derives the full operational KeySet from a mnemonic and
// optional BIP39 passphrase.
func DeriveKeySet(mnemonic, passphrase string) (*KeySet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	evmKey, err := deriveSecp256k1(seed, evmDerivationPath)
	if err != nil {
		return nil, fmt.Errorf("derive evm key: %w", err)
	}
	evmAddr, err := identity.EvmAddressFromBytes(evmAddressFromPubKey(evmKey.PubKey()))
	if err != nil {
		return nil, fmt.Errorf("derive evm address: %w", err)
	}

	actorPriv, err := deriveEd25519(seed, actorDerivationPath)
	if err != nil {
		return nil, fmt.Errorf("derive actor key: %w", err)
	}
	actorPub := actorPriv.Public().(ed25519.PublicKey)
	principal, err := identity.PrincipalFromEd25519PublicKey(actorPub)
	if err != nil {
		return nil, fmt.Errorf("derive principal: %w", err)
	}

	return &KeySet{
		EvmPrivateKey:   evmKey,
		EvmAddress:      evmAddr,
		ActorPrivateKey: actorPriv,
		ActorPrincipal:  principal,
	}, nil
}

// evmAddressFromPubKey derives an EVM address the standard way:
// Keccak256(pubkey[1:])[12:].
func evmAddressFromPubKey(pub *btcec.PublicKey) []byte {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X || Y
	hash := keccak256(uncompressed[1:])
	return hash[12:]
}

// bip32 chain-code derivation over secp256k1, following the same
// HMAC-SHA512 construction hdkeychain uses, without taking a dependency
// on a Bitcoin-network-parameterized key type.
type extendedKey struct {
	key       []byte // 32-byte private key
	chainCode []byte // 32 bytes
}

func masterKey(seed []byte) extendedKey {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return extendedKey{key: sum[:32], chainCode: sum[32:]}
}

func (k extendedKey) deriveChild(index uint32) (extendedKey, error) {
	var data []byte
	if index >= hardenedOffset {
		data = append([]byte{0x00}, k.key...)
	} else {
		priv, pub := btcec.PrivKeyFromBytes(k.key)
		_ = priv
		data = pub.SerializeCompressed()
	}
	data = append(data, byte(index>>24), byte(index>>16), byte(index>>8), byte(index))

	mac := hmac.New(sha512.New, k.chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	il, newChainCode := sum[:32], sum[32:]

	curveOrder := btcec.S256().N
	ilNum := new(big.Int).SetBytes(il)
	parentNum := new(big.Int).SetBytes(k.key)
	childNum := new(big.Int).Add(ilNum, parentNum)
	childNum.Mod(childNum, curveOrder)
	if childNum.Sign() == 0 {
		return extendedKey{}, fmt.Errorf("invalid child index %d: resulting key is zero", index)
	}

	childBytes := make([]byte, 32)
	childNum.FillBytes(childBytes)
	return extendedKey{key: childBytes, chainCode: newChainCode}, nil
}

func deriveSecp256k1(seed []byte, path []uint32) (*btcec.PrivateKey, error) {
	ek := masterKey(seed)
	for _, idx := range path {
		next, err := ek.deriveChild(idx)
		if err != nil {
			return nil, err
		}
		ek = next
	}
	priv, _ := btcec.PrivKeyFromBytes(ek.key)
	return priv, nil
}

// deriveEd25519 implements SLIP-0010 ed25519 derivation: every level is
// hardened, and the child seed is HMAC-SHA512(chainCode, 0x00 || key ||
// index) with no public-key branch, since ed25519 scalars cannot be
// derived non-hardened.
func deriveEd25519(seed []byte, path []uint32) (ed25519.PrivateKey, error) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	for _, idx := range path {
		hardened := idx | hardenedOffset
		data := append([]byte{0x00}, key...)
		data = append(data, byte(hardened>>24), byte(hardened>>16), byte(hardened>>8), byte(hardened))

		m := hmac.New(sha512.New, chainCode)
		m.Write(data)
		s := m.Sum(nil)
		key, chainCode = s[:32], s[32:]
	}

	return ed25519.NewKeyFromSeed(key), nil
}
