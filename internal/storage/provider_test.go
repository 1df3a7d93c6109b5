// Package storage_test contains unit tests for the storage package.
package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashmod/panels/internal/snapshot"
	"github.com/ashmod/panels/internal/storage"
	"github.com/ashmod/panels/internal/storage/local"
)

func TestOpenFileBackend(t *testing.T) {
	t.Parallel()

	b, err := storage.Open(context.Background(), storage.Config{
		Backend: "file",
		File:    local.Config{BaseDir: t.TempDir(), File: "dilbert_cache.json"},
	}, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, b.Close()) }()

	require.NotNil(t, b.File)
	require.NotNil(t, b.Runs)
	require.NoError(t, b.Snapshots.Save(context.Background(), map[string]snapshot.Entry{"2000-01-01": {Title: "t"}}))
	entries, err := b.Snapshots.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenMemoryBackend(t *testing.T) {
	t.Parallel()

	b, err := storage.Open(context.Background(), storage.Config{Backend: "MEMORY"}, nil)
	require.NoError(t, err)
	assert.Nil(t, b.File)
	entries, err := b.Snapshots.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := map[string]storage.Config{
		"unknown":       {Backend: "s3"},
		"file no dir":   {Backend: "file", File: local.Config{File: "x.json"}},
		"gcs no bucket": {Backend: "gcs"},
		"postgres dsn":  {Backend: "postgres"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := storage.Open(context.Background(), cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestMockStore(t *testing.T) {
	t.Parallel()

	m := &storage.MockStore{}
	m.On("Load", context.Background()).Return(map[string]snapshot.Entry{"a": {}}, nil)
	entries, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	m.AssertExpectations(t)
}
