package accesskey

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/kms"
	"github.com/omnia-iot/omnia-backend/ledger"
	"github.com/omnia-iot/omnia-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	backend = interfaces.PrincipalID("backend")
	user    = interfaces.PrincipalID("user")
	app     = interfaces.PrincipalID("third-party-app")
)

type fixture struct {
	engine *Engine
	ledger *ledger.Memory
	signer *kms.SimpleSigner
}

func newFixture(t *testing.T, oracle interfaces.SignatureOracle) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "registry.db"), storage.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	signer, err := kms.NewSimpleSigner([]byte("0123456789abcdef0123456789abcdef"), "")
	require.NoError(t, err)
	if oracle == nil {
		oracle = signer
	}

	l := ledger.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(db, l, oracle, Config{BackendPrincipalID: backend}, logger)
	return &fixture{engine: engine, ledger: l, signer: signer}
}

// pay appends filler blocks until the payment lands at index.
func (f *fixture) pay(t *testing.T, index uint64, from interfaces.PrincipalID, amount uint64) {
	t.Helper()
	for {
		i, _ := f.ledger.Transfer("someone", "someone-else", 1)
		if i+1 == index {
			break
		}
		require.Less(t, i, index)
	}
	i, _ := f.ledger.Transfer(from, backend, amount)
	require.Equal(t, index, i)
}

func (f *fixture) present(t *testing.T, key interfaces.AccessKeyUID, nonce uint64) interfaces.SignedRequest {
	t.Helper()
	uak := interfaces.UniqueAccessKey{Key: key, Nonce: interfaces.NonceFromUint64(nonce)}
	hash, err := MessageHash(uak)
	require.NoError(t, err)
	sig, err := f.signer.Sign(context.Background(), app, hash)
	require.NoError(t, err)
	return interfaces.SignedRequest{
		SignatureHex:        hex.EncodeToString(sig),
		UniqueAccessKey:     uak,
		RequesterCanisterID: app,
	}
}

func TestAccessKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pay(t, 42, user, DefaultPrice)

	uid, err := f.engine.GetRequestKey(ctx, user, 42)
	require.NoError(t, err)

	key, err := f.engine.GetAccessKey(uid)
	require.NoError(t, err)
	assert.Equal(t, user, key.Owner)
	assert.Zero(t, key.Counter)
	assert.Empty(t, key.UsedNonces)

	key, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), key.Counter)

	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 1))
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.NonceAlreadyUsed))
	assert.Equal(t, "AccessKey(NonceAlreadyUsed)", interfaces.ErrorTag(err))

	for nonce := uint64(2); nonce <= 10; nonce++ {
		key, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, nonce))
		require.NoError(t, err, "nonce %d", nonce)
	}
	assert.Equal(t, uint32(10), key.Counter)
	assert.Len(t, key.UsedNonces, 10)

	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 11))
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.RequestsLimitReached))
}

func TestTransferPaysForOneKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pay(t, 3, user, DefaultPrice)

	_, err := f.engine.GetRequestKey(ctx, user, 3)
	require.NoError(t, err)

	_, err = f.engine.GetRequestKey(ctx, user, 3)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExists)
	assert.Equal(t, "AlreadyExists(spent transfer)", interfaces.ErrorTag(err))
}

func TestGetRequestKeyRejectsWrongPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pay(t, 1, user, DefaultPrice-1)
	f.pay(t, 3, "somebody-else", DefaultPrice)

	tests := []struct {
		name  string
		block uint64
	}{
		{"wrong amount", 1},
		{"wrong sender", 3},
		{"missing block", 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.GetRequestKey(ctx, user, tt.block)
			var ledgerErr *interfaces.LedgerError
			assert.ErrorAs(t, err, &ledgerErr)
		})
	}
}

func TestRejectedPresentationsConsumeNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pay(t, 1, user, DefaultPrice)
	uid, err := f.engine.GetRequestKey(ctx, user, 1)
	require.NoError(t, err)

	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, "unknown", 1))
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.InvalidAccessKey))

	forged := f.present(t, uid, 5)
	forged.UniqueAccessKey.Nonce = interfaces.NonceFromUint64(6)
	_, err = f.engine.VerifySignedRequest(ctx, forged)
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.InvalidSignature))

	garbled := f.present(t, uid, 5)
	garbled.SignatureHex = "zz"
	_, err = f.engine.VerifySignedRequest(ctx, garbled)
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.InvalidSignature))

	key, err := f.engine.GetAccessKey(uid)
	require.NoError(t, err)
	assert.Zero(t, key.Counter)
	assert.Empty(t, key.UsedNonces)

	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 5))
	require.NoError(t, err, "the nonce of a rejected presentation stays usable")
}

func TestOracleFailureAndCache(t *testing.T) {
	ctx := context.Background()
	oracle := &kms.MockOracle{}
	f := newFixture(t, oracle)
	f.pay(t, 1, user, DefaultPrice)
	uid, err := f.engine.GetRequestKey(ctx, user, 1)
	require.NoError(t, err)

	oracle.On("PublicKey", mock.Anything, app).Return(nil, &interfaces.SignatureOracleError{Msg: "unreachable"}).Once()
	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 1))
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.SignatureVerificationError))

	pubkey, err := f.signer.PublicKey(ctx, app)
	require.NoError(t, err)
	oracle.On("PublicKey", mock.Anything, app).Return(pubkey, nil).Once()

	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 1))
	require.NoError(t, err)
	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 2))
	require.NoError(t, err)

	oracle.AssertNumberOfCalls(t, "PublicKey", 2)
}

func TestRevokeAccessKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pay(t, 1, user, DefaultPrice)
	uid, err := f.engine.GetRequestKey(ctx, user, 1)
	require.NoError(t, err)

	err = f.engine.RevokeAccessKey("intruder", uid)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	require.NoError(t, f.engine.RevokeAccessKey(user, uid))

	_, err = f.engine.VerifySignedRequest(ctx, f.present(t, uid, 1))
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.InvalidAccessKey))

	err = f.engine.RevokeAccessKey(user, uid)
	assert.ErrorIs(t, err, interfaces.RejectAccessKey(interfaces.InvalidAccessKey))
}
