package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/omnia-iot/omnia-backend/interfaces"
)

// ChainReader is the subset of ethclient.Client the Ethereum ledger needs.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// Ethereum reads value transfers from an EVM chain. Block indices are block
// numbers and accounts are checksummed addresses.
type Ethereum struct {
	client  ChainReader
	signer  types.Signer
	chainID *big.Int
	log     *slog.Logger
}

// DialEthereum connects to rpcURL and checks the node serves the chain named
// by principalID.
func DialEthereum(ctx context.Context, rpcURL, principalID string, log *slog.Logger) (*Ethereum, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewEthereum(ctx, client, principalID, log)
}

// NewEthereum wraps client. principalID has the form "eip155:<chain id>";
// an empty principalID accepts whatever chain the node serves.
func NewEthereum(ctx context.Context, client ChainReader, principalID string, log *slog.Logger) (*Ethereum, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, &interfaces.LedgerError{Msg: fmt.Sprintf("failed to query chain id: %v", err)}
	}

	if principalID != "" {
		expected, err := ParseChainPrincipal(principalID)
		if err != nil {
			return nil, err
		}
		if expected.Cmp(chainID) != 0 {
			return nil, fmt.Errorf("ledger principal %s does not match node chain id %s", principalID, chainID)
		}
	}

	log.Info("Connected to ledger", "chainID", chainID)
	return &Ethereum{
		client:  client,
		signer:  types.LatestSignerForChainID(chainID),
		chainID: chainID,
		log:     log,
	}, nil
}

// ParseChainPrincipal extracts the chain id of an "eip155:<id>" principal.
func ParseChainPrincipal(principalID string) (*big.Int, error) {
	raw, ok := strings.CutPrefix(principalID, "eip155:")
	if !ok {
		return nil, fmt.Errorf("ledger principal %q is not of the form eip155:<chain id>", principalID)
	}
	chainID, ok := new(big.Int).SetString(raw, 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id in ledger principal %q", principalID)
	}
	return chainID, nil
}

func (e *Ethereum) QueryBlock(ctx context.Context, index uint64) (*interfaces.Block, error) {
	block, err := e.client.BlockByNumber(ctx, new(big.Int).SetUint64(index))
	if err != nil {
		return nil, &interfaces.LedgerError{Msg: fmt.Sprintf("block %d: %v", index, err)}
	}
	return &interfaces.Block{
		Index:     index,
		Transfers: transfersFromTransactions(block.Transactions(), e.signer, e.log),
	}, nil
}

// transfersFromTransactions keeps plain value transfers. Contract creations,
// zero-value calls and amounts beyond 64 bits are skipped.
func transfersFromTransactions(txs types.Transactions, signer types.Signer, log *slog.Logger) []interfaces.Transfer {
	var transfers []interfaces.Transfer
	for _, tx := range txs {
		if tx.To() == nil || tx.Value().Sign() == 0 || !tx.Value().IsUint64() {
			continue
		}
		from, err := types.Sender(signer, tx)
		if err != nil {
			log.Debug("Skipping transaction with unrecoverable sender", "tx", tx.Hash(), "err", err)
			continue
		}
		transfers = append(transfers, interfaces.Transfer{
			From:            from.Hex(),
			To:              tx.To().Hex(),
			Amount:          tx.Value().Uint64(),
			TransactionHash: tx.Hash().Hex(),
		})
	}
	return transfers
}

// AccountOf returns the checksummed form of an address principal. Other
// principals are returned unchanged and never match a transfer.
func (e *Ethereum) AccountOf(principal interfaces.PrincipalID) string {
	if !common.IsHexAddress(string(principal)) {
		return string(principal)
	}
	return common.HexToAddress(string(principal)).Hex()
}
