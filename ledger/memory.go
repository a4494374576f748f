package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

var accountDomainSeparator = []byte("\x0Aaccount-id")

// AccountIdentifier derives the ledger account of principal with the default
// (all zero) sub-account: crc32(h) || h where
// h = sha224("\x0Aaccount-id" || principal || subaccount).
func AccountIdentifier(principal interfaces.PrincipalID) string {
	var subaccount [32]byte

	h := sha256.New224()
	h.Write(accountDomainSeparator)
	h.Write([]byte(principal))
	h.Write(subaccount[:])
	sum := h.Sum(nil)

	account := make([]byte, 4, 4+len(sum))
	binary.BigEndian.PutUint32(account, crc32.ChecksumIEEE(sum))
	account = append(account, sum...)
	return hex.EncodeToString(account)
}

// Memory is an append-only in-process ledger holding one transfer per
// block. It backs tests and local development.
type Memory struct {
	mu     sync.RWMutex
	blocks []interfaces.Block
}

func NewMemory() *Memory {
	return &Memory{}
}

// Transfer appends a block moving amount from one principal's account to
// another's and returns its index.
func (m *Memory) Transfer(from, to interfaces.PrincipalID, amount uint64) (uint64, interfaces.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := uint64(len(m.blocks))
	transfer := interfaces.Transfer{
		From:   AccountIdentifier(from),
		To:     AccountIdentifier(to),
		Amount: amount,
	}
	transfer.TransactionHash = transactionHash(index, transfer)

	m.blocks = append(m.blocks, interfaces.Block{
		Index:     index,
		Transfers: []interfaces.Transfer{transfer},
	})
	return index, transfer
}

func transactionHash(index uint64, t interfaces.Transfer) string {
	h := sha256.New()
	_ = binary.Write(h, binary.BigEndian, index)
	h.Write([]byte(t.From))
	h.Write([]byte(t.To))
	_ = binary.Write(h, binary.BigEndian, t.Amount)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryBlock returns a copy of the block at index.
func (m *Memory) QueryBlock(_ context.Context, index uint64) (*interfaces.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index >= uint64(len(m.blocks)) {
		return nil, &interfaces.LedgerError{Msg: fmt.Sprintf("block %d not found", index)}
	}
	block := m.blocks[index]
	block.Transfers = append([]interfaces.Transfer{}, block.Transfers...)
	return &block, nil
}

func (m *Memory) AccountOf(principal interfaces.PrincipalID) string {
	return AccountIdentifier(principal)
}
