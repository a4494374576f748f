package rdf

import (
	"context"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockStore mocks the RDFStore interface
type MockStore struct {
	mock.Mock
}

// Query mocks the Query method
func (m *MockStore) Query(ctx context.Context, sparql string) ([]byte, error) {
	args := m.Called(ctx, sparql)
	result, _ := args.Get(0).([]byte)
	return result, args.Error(1)
}

// Insert mocks the Insert method
func (m *MockStore) Insert(ctx context.Context, quads []interfaces.Quad) error {
	args := m.Called(ctx, quads)
	return args.Error(0)
}
