package resolver

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/klingon-exchange/fusion-resolver/pkg/helpers"
)

// Argon2id parameters for sealing the live secret store at rest, mirroring
// internal/walletkeys/crypto.go's mnemonic-sealing parameters.
const (
	vaultArgon2Time        = 3
	vaultArgon2Memory      = 64 * 1024
	vaultArgon2Parallelism = 4
	vaultArgon2KeyLen      = 32
	vaultArgon2SaltLen     = 32
)

// SealedSecrets is a snapshot of every live swap secret, encrypted with
// an Argon2id-derived AES-256-GCM key, suitable for persisting alongside
// swap state so a crash does not force every in-flight swap to expire
// and refund.
type SealedSecrets struct {
	Ciphertext []byte `json:"ciphertext"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
}

// secretRecord is the plaintext shape sealed into SealedSecrets.
type secretRecord struct {
	SwapID string `json:"swap_id"`
	Secret string `json:"secret"` // hex
}

// SealSecrets snapshots every swap with a still-live secret and seals it
// with passphrase. Terminal swaps contribute nothing, since their secret
// is already erased.
func (o *Orchestrator) SealSecrets(passphrase string) (*SealedSecrets, error) {
	o.mu.RLock()
	records := make([]secretRecord, 0, len(o.swaps))
	for id, s := range o.swaps {
		if secret := s.Secret(); secret != nil {
			records = append(records, secretRecord{SwapID: id, Secret: helpers.BytesToHex((*secret)[:])})
		}
	}
	o.mu.RUnlock()

	plaintext, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal secret records: %w", err)
	}

	salt := make([]byte, vaultArgon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(passphrase), salt, vaultArgon2Time, vaultArgon2Memory, vaultArgon2Parallelism, vaultArgon2KeyLen)
	gcm, err := vaultGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &SealedSecrets{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Salt:       salt,
		Nonce:      nonce,
	}, nil
}

// OpenSecrets decrypts a SealedSecrets snapshot back into swap_id -> secret
// pairs, for recovery after restart before a swap's secret would otherwise
// have to be assumed lost (forcing a refund).
func OpenSecrets(sealed *SealedSecrets, passphrase string) (map[string][32]byte, error) {
	key := argon2.IDKey([]byte(passphrase), sealed.Salt, vaultArgon2Time, vaultArgon2Memory, vaultArgon2Parallelism, vaultArgon2KeyLen)
	gcm, err := vaultGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret vault (wrong passphrase?): %w", err)
	}

	var records []secretRecord
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return nil, fmt.Errorf("unmarshal secret records: %w", err)
	}

	out := make(map[string][32]byte, len(records))
	for _, r := range records {
		decoded, err := helpers.HexToBytes(r.Secret)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("decode secret for swap %s: %w", r.SwapID, err)
		}
		var secret [32]byte
		copy(secret[:], decoded)
		out[r.SwapID] = secret
	}
	return out, nil
}

func vaultGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
