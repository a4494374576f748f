package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"golang.org/x/crypto/hkdf"
)

// DefaultKeyID names the key family signatures are derived under.
const DefaultKeyID = "omnia_key_1"

// SimpleSigner derives one secp256k1 key per canister from a master seed.
// Keys are deterministic, so restarting with the same seed and key id yields
// the same public keys.
type SimpleSigner struct {
	masterKey []byte
	keyID     string

	mu   sync.RWMutex
	keys map[interfaces.PrincipalID]*ecdsa.PrivateKey
}

// NewSimpleSigner creates a signer with the provided master key.
// The master key must be at least 32 bytes long.
func NewSimpleSigner(masterKey []byte, keyID string) (*SimpleSigner, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	if keyID == "" {
		keyID = DefaultKeyID
	}

	seed := make([]byte, len(masterKey))
	copy(seed, masterKey)
	return &SimpleSigner{
		masterKey: seed,
		keyID:     keyID,
		keys:      make(map[interfaces.PrincipalID]*ecdsa.PrivateKey),
	}, nil
}

// KeyID returns the key family name.
func (k *SimpleSigner) KeyID() string {
	return k.keyID
}

// PublicKey returns the 33-byte compressed public key of canister.
func (k *SimpleSigner) PublicKey(_ context.Context, canister interfaces.PrincipalID) ([]byte, error) {
	key, err := k.key(canister)
	if err != nil {
		return nil, &interfaces.SignatureOracleError{Msg: err.Error()}
	}
	return crypto.CompressPubkey(&key.PublicKey), nil
}

// Sign signs hash with the key of canister and returns the 64-byte r||s
// signature without the recovery id.
func (k *SimpleSigner) Sign(_ context.Context, canister interfaces.PrincipalID, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, &interfaces.SignatureOracleError{Msg: fmt.Sprintf("hash must be 32 bytes, got %d", len(hash))}
	}

	key, err := k.key(canister)
	if err != nil {
		return nil, &interfaces.SignatureOracleError{Msg: err.Error()}
	}

	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, &interfaces.SignatureOracleError{Msg: err.Error()}
	}
	return sig[:64], nil
}

func (k *SimpleSigner) key(canister interfaces.PrincipalID) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	key, ok := k.keys[canister]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := k.deriveKey(canister)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.keys[canister] = key
	k.mu.Unlock()
	return key, nil
}

// deriveKey expands the master key with HKDF-SHA256 using the key id as salt
// and the canister as info. Candidates outside the curve order are skipped.
func (k *SimpleSigner) deriveKey(canister interfaces.PrincipalID) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, k.masterKey, []byte(k.keyID), []byte(canister))
	seed := make([]byte, 32)
	for i := 0; i < 8; i++ {
		if _, err := io.ReadFull(r, seed); err != nil {
			return nil, fmt.Errorf("failed to derive key for %s: %w", canister, err)
		}
		if key, err := crypto.ToECDSA(seed); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("no valid key derived for %s", canister)
}

// VerifySignature checks a 64-byte r||s (or 65-byte r||s||v) signature of
// hash against a compressed or uncompressed secp256k1 public key.
func VerifySignature(pubkey, hash, sig []byte) bool {
	if len(hash) != 32 {
		return false
	}
	switch len(sig) {
	case 64:
	case 65:
		sig = sig[:64]
	default:
		return false
	}
	return crypto.VerifySignature(pubkey, hash, sig)
}

// MessageHash is the digest signMessage and verifyMessage operate on.
func MessageHash(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}
