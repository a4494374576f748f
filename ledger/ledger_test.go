package ledger

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestAccountIdentifier(t *testing.T) {
	a := AccountIdentifier("principal-a")
	assert.Len(t, a, 64, "4 byte checksum and 28 byte hash, hex encoded")
	assert.Equal(t, a, AccountIdentifier("principal-a"))
	assert.NotEqual(t, a, AccountIdentifier("principal-b"))
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	index, transfer := l.Transfer("alice", "backend", 1_000_000)
	assert.Equal(t, uint64(0), index)
	assert.Equal(t, l.AccountOf("alice"), transfer.From)
	assert.Equal(t, l.AccountOf("backend"), transfer.To)

	index, second := l.Transfer("alice", "backend", 1_000_000)
	assert.Equal(t, uint64(1), index)
	assert.NotEqual(t, transfer.TransactionHash, second.TransactionHash)

	block, err := l.QueryBlock(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Transfer{transfer}, block.Transfers)

	_, err = l.QueryBlock(ctx, 2)
	var ledgerErr *interfaces.LedgerError
	assert.ErrorAs(t, err, &ledgerErr)
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	id, _ := args.Get(0).(*big.Int)
	return id, args.Error(1)
}

func (m *mockChain) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	args := m.Called(ctx, number)
	block, _ := args.Get(0).(*types.Block)
	return block, args.Error(1)
}

func TestParseChainPrincipal(t *testing.T) {
	id, err := ParseChainPrincipal("eip155:11155111")
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), id.Int64())

	for _, bad := range []string{"11155111", "eip155:", "eip155:abc", "eip155:-1"} {
		_, err := ParseChainPrincipal(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewEthereumChecksChainID(t *testing.T) {
	chain := &mockChain{}
	chain.On("ChainID", mock.Anything).Return(big.NewInt(1), nil)

	_, err := NewEthereum(context.Background(), chain, "eip155:5", discard)
	assert.Error(t, err)

	l, err := NewEthereum(context.Background(), chain, "eip155:1", discard)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.chainID.Int64())
}

func TestTransfersFromTransactions(t *testing.T) {
	chainID := big.NewInt(1337)
	signer := types.NewEIP155Signer(chainID)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	sign := func(tx *types.Transaction) *types.Transaction {
		signed, err := types.SignTx(tx, signer, key)
		require.NoError(t, err)
		return signed
	}

	payment := sign(types.NewTx(&types.LegacyTx{Nonce: 0, To: &recipient, Value: big.NewInt(1_000_000), Gas: 21000, GasPrice: big.NewInt(1)}))
	zeroValue := sign(types.NewTx(&types.LegacyTx{Nonce: 1, To: &recipient, Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)}))
	creation := sign(types.NewTx(&types.LegacyTx{Nonce: 2, Value: big.NewInt(5), Gas: 100000, GasPrice: big.NewInt(1)}))

	transfers := transfersFromTransactions(types.Transactions{payment, zeroValue, creation}, signer, discard)
	require.Len(t, transfers, 1)
	assert.Equal(t, interfaces.Transfer{
		From:            sender.Hex(),
		To:              recipient.Hex(),
		Amount:          1_000_000,
		TransactionHash: payment.Hash().Hex(),
	}, transfers[0])

	l := &Ethereum{signer: signer, chainID: chainID, log: discard}
	assert.Equal(t, sender.Hex(), l.AccountOf(interfaces.PrincipalID(sender.Hex())))
	assert.Equal(t, recipient.Hex(), l.AccountOf("0x00000000000000000000000000000000000000AA"))
	assert.Equal(t, "not-an-address", l.AccountOf("not-an-address"))
}

func TestQueryBlockWrapsErrors(t *testing.T) {
	chain := &mockChain{}
	chain.On("ChainID", mock.Anything).Return(big.NewInt(1), nil)
	chain.On("BlockByNumber", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	l, err := NewEthereum(context.Background(), chain, "", discard)
	require.NoError(t, err)

	_, err = l.QueryBlock(context.Background(), 7)
	var ledgerErr *interfaces.LedgerError
	assert.ErrorAs(t, err, &ledgerErr)
}
