package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockBackend implements interfaces.BlobStore for testing
type MockBackend struct {
	mock.Mock
	name string
}

func (m *MockBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	args := m.Called(ctx, id)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockBackend) Store(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockBackend) Available(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockBackend) Name() string {
	return m.name
}

func (m *MockBackend) LocationURI() string {
	return "mock://" + m.name
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMultiBackendAvailable(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{"all backends available", []bool{true, true, true}, true},
		{"some backends available", []bool{false, true, false}, true},
		{"no backends available", []bool{false, false, false}, false},
		{"no backends", []bool{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.BlobStore
			for i, available := range tt.backends {
				m := &MockBackend{name: fmt.Sprintf("mock-%d", i)}
				m.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, m)
			}

			multi := NewMultiBackend(backends, discard)
			assert.Equal(t, tt.expected, multi.Available(context.Background()))
		})
	}
}

func TestMultiBackendFetch(t *testing.T) {
	testData := []byte("snapshot")
	testID := interfaces.ComputeID(testData)
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []*MockBackend
		expectedData  []byte
		expectedError bool
	}{
		{
			name: "first backend successful",
			setupMocks: func() []*MockBackend {
				a := &MockBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID).Return(testData, nil)
				return []*MockBackend{a, {name: "b"}}
			},
			expectedData: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []*MockBackend {
				a := &MockBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID).Return(nil, testErr)
				b := &MockBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID).Return(testData, nil)
				return []*MockBackend{a, b}
			},
			expectedData: testData,
		},
		{
			name: "all backends fail",
			setupMocks: func() []*MockBackend {
				a := &MockBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID).Return(nil, interfaces.ErrContentNotFound)
				b := &MockBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID).Return(nil, testErr)
				return []*MockBackend{a, b}
			},
			expectedError: true,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []*MockBackend {
				a := &MockBackend{name: "a"}
				a.On("Available", mock.Anything).Return(false)
				b := &MockBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID).Return(testData, nil)
				return []*MockBackend{a, b}
			},
			expectedData: testData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := tt.setupMocks()
			backends := make([]interfaces.BlobStore, len(mocks))
			for i, m := range mocks {
				backends[i] = m
			}

			data, err := NewMultiBackend(backends, discard).Fetch(context.Background(), testID)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, m := range mocks {
				m.AssertExpectations(t)
			}
		})
	}
}

func TestMultiBackendStore(t *testing.T) {
	testData := []byte("snapshot")
	testID := interfaces.ComputeID(testData)
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		stores        []error
		available     []bool
		expectedError bool
	}{
		{"all backends successful", []error{nil, nil}, []bool{true, true}, false},
		{"some backends fail", []error{nil, testErr}, []bool{true, true}, false},
		{"all backends fail", []error{testErr, testErr}, []bool{true, true}, true},
		{"unavailable backends are skipped", []error{nil, nil}, []bool{false, true}, false},
		{"nothing available", []error{nil}, []bool{false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mocks []*MockBackend
			var backends []interfaces.BlobStore
			for i, storeErr := range tt.stores {
				m := &MockBackend{name: fmt.Sprintf("mock-%d", i)}
				m.On("Available", mock.Anything).Return(tt.available[i])
				if tt.available[i] {
					m.On("Store", mock.Anything, testData).Return(testID, storeErr)
				}
				mocks = append(mocks, m)
				backends = append(backends, m)
			}

			id, err := NewMultiBackend(backends, discard).Store(context.Background(), testData)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, testID, id)
			}

			for _, m := range mocks {
				m.AssertExpectations(t)
			}
		})
	}
}
