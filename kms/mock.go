package kms

import (
	"context"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockOracle mocks the SignatureOracle interface
type MockOracle struct {
	mock.Mock
}

// PublicKey mocks the PublicKey method
func (m *MockOracle) PublicKey(ctx context.Context, canister interfaces.PrincipalID) ([]byte, error) {
	args := m.Called(ctx, canister)
	pubkey, _ := args.Get(0).([]byte)
	return pubkey, args.Error(1)
}

// Sign mocks the Sign method
func (m *MockOracle) Sign(ctx context.Context, canister interfaces.PrincipalID, hash []byte) ([]byte, error) {
	args := m.Called(ctx, canister, hash)
	sig, _ := args.Get(0).([]byte)
	return sig, args.Error(1)
}
