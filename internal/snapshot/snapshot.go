// Package snapshot holds the precomputed archive table: calendar date to the strip
// image and title harvested from an archived page.
package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// Entry is one harvested strip.
type Entry struct {
	ImageURL  string `json:"image_url"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Store persists a whole table.
type Store interface {
	// Load returns the persisted table. A table that was never saved is empty, not an error.
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// Table is a lock-guarded date-keyed map shared by readers and the harvester.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable builds a table holding a copy of entries.
func NewTable(entries map[string]Entry) *Table {
	t := &Table{}
	t.Replace(entries)
	return t
}

// Get returns the entry for date.
func (t *Table) Get(date string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[date]
	return e, ok
}

// Has reports whether date is present.
func (t *Table) Has(date string) bool {
	_, ok := t.Get(date)
	return ok
}

// Put inserts or replaces the entry for date.
func (t *Table) Put(date string, e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[date] = e
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy safe to hand to a Store while writers continue.
func (t *Table) Snapshot() map[string]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Entry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Replace swaps the whole content for a copy of entries.
func (t *Table) Replace(entries map[string]Entry) {
	fresh := make(map[string]Entry, len(entries))
	for k, v := range entries {
		fresh[k] = v
	}
	t.mu.Lock()
	t.entries = fresh
	t.mu.Unlock()
}

// Reload replaces the table with the store's current content.
func (t *Table) Reload(ctx context.Context, store Store) error {
	entries, err := store.Load(ctx)
	if err != nil {
		return err
	}
	t.Replace(entries)
	return nil
}

// Encode renders entries as indented JSON, keys sorted.
func Encode(entries map[string]Entry) ([]byte, error) {
	if entries == nil {
		entries = map[string]Entry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot table: %w", err)
	}
	return raw, nil
}

// Decode parses a table encoded by Encode. Empty input is an empty table.
func Decode(raw []byte) (map[string]Entry, error) {
	entries := map[string]Entry{}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode snapshot table: %w", err)
	}
	return entries, nil
}
