package kms

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *SimpleSigner {
	t.Helper()
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err, "Failed to generate test master key")

	signer, err := NewSimpleSigner(masterKey, "")
	require.NoError(t, err)
	return signer
}

func TestNewSimpleSigner(t *testing.T) {
	_, err := NewSimpleSigner(make([]byte, 16), "")
	assert.Error(t, err, "Should fail with master key < 32 bytes")

	signer, err := NewSimpleSigner(make([]byte, 32), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultKeyID, signer.KeyID())
}

func TestKeysAreDeterministic(t *testing.T) {
	ctx := context.Background()
	masterKey := make([]byte, 32)
	copy(masterKey, "deterministic-master-key-0123456")

	a, err := NewSimpleSigner(masterKey, "key_1")
	require.NoError(t, err)
	b, err := NewSimpleSigner(masterKey, "key_1")
	require.NoError(t, err)
	other, err := NewSimpleSigner(masterKey, "key_2")
	require.NoError(t, err)

	pubA, err := a.PublicKey(ctx, "canister-1")
	require.NoError(t, err)
	assert.Len(t, pubA, 33)

	pubB, err := b.PublicKey(ctx, "canister-1")
	require.NoError(t, err)
	assert.Equal(t, pubA, pubB, "Same seed and key id should give the same key")

	pubOther, err := other.PublicKey(ctx, "canister-1")
	require.NoError(t, err)
	assert.NotEqual(t, pubA, pubOther, "Key id separates key families")

	pubCanister2, err := a.PublicKey(ctx, "canister-2")
	require.NoError(t, err)
	assert.NotEqual(t, pubA, pubCanister2, "Canisters get distinct keys")
}

func TestSignAndVerify(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	hash := MessageHash([]byte("hello omnia"))

	sig, err := signer.Sign(ctx, "canister-1", hash)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	pubkey, err := signer.PublicKey(ctx, "canister-1")
	require.NoError(t, err)

	assert.True(t, VerifySignature(pubkey, hash, sig))
	assert.True(t, VerifySignature(pubkey, hash, append(sig, 0)), "65-byte signatures are accepted")
	assert.False(t, VerifySignature(pubkey, MessageHash([]byte("other")), sig))
	assert.False(t, VerifySignature(pubkey, hash, sig[:63]))

	otherKey, err := signer.PublicKey(ctx, "canister-2")
	require.NoError(t, err)
	assert.False(t, VerifySignature(otherKey, hash, sig))
}

func TestSignRejectsBadHash(t *testing.T) {
	signer := newTestSigner(t)

	_, err := signer.Sign(context.Background(), "canister-1", []byte("short"))
	var oracleErr *interfaces.SignatureOracleError
	require.ErrorAs(t, err, &oracleErr)
	assert.Contains(t, interfaces.ErrorTag(err), "SignatureOracleError(")
}
