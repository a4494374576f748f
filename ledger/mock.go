package ledger

import (
	"context"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the Ledger interface
type MockLedger struct {
	mock.Mock
}

// QueryBlock mocks the QueryBlock method
func (m *MockLedger) QueryBlock(ctx context.Context, index uint64) (*interfaces.Block, error) {
	args := m.Called(ctx, index)
	block, _ := args.Get(0).(*interfaces.Block)
	return block, args.Error(1)
}

// AccountOf mocks the AccountOf method
func (m *MockLedger) AccountOf(principal interfaces.PrincipalID) string {
	args := m.Called(principal)
	return args.String(0)
}
