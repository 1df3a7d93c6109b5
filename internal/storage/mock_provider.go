package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ashmod/panels/internal/snapshot"
)

// MockStore is a mock implementation of snapshot.Store for testing.
type MockStore struct {
	mock.Mock
}

// Load is the mock implementation of the Load method.
func (m *MockStore) Load(ctx context.Context) (map[string]snapshot.Entry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).(map[string]snapshot.Entry)
	return entries, args.Error(1) //nolint:wrapcheck
}

// Save is the mock implementation of the Save method.
func (m *MockStore) Save(ctx context.Context, entries map[string]snapshot.Entry) error {
	args := m.Called(ctx, entries)
	return args.Error(0) //nolint:wrapcheck
}
