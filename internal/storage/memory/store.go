// Package memory keeps the snapshot table and harvest run history in process memory,
// for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/ashmod/panels/internal/snapshot"
)

// Store is an in-memory snapshot table store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]snapshot.Entry
	saves   int
}

// NewStore creates a Store seeded with a copy of entries.
func NewStore(entries map[string]snapshot.Entry) *Store {
	return &Store{entries: copyEntries(entries)}
}

// Load returns a copy of the stored table.
func (s *Store) Load(_ context.Context) (map[string]snapshot.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEntries(s.entries), nil
}

// Save replaces the stored table with a copy of entries.
func (s *Store) Save(_ context.Context, entries map[string]snapshot.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = copyEntries(entries)
	s.saves++
	return nil
}

// Saves counts completed Save calls.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func copyEntries(in map[string]snapshot.Entry) map[string]snapshot.Entry {
	out := make(map[string]snapshot.Entry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
