// Package local_test tests the file-backed snapshot table store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashmod/panels/internal/snapshot"
	"github.com/ashmod/panels/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "data")
		store, err := local.New(local.Config{BaseDir: dir, File: "table.json"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "table.json"), store.Path())
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingFields", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{File: "table.json"})
		assert.Error(t, err)
		_, err = local.New(local.Config{BaseDir: t.TempDir()})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file, File: "table.json"})
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: t.TempDir(), File: "../escape.json"})
		assert.Error(t, err)
	})
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir(), File: "table.json"})
	require.NoError(t, err)
	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir, File: "table.json"})
	require.NoError(t, err)

	want := map[string]snapshot.Entry{
		"1989-04-16": {ImageURL: "https://assets.amuniversal.com/a", Title: "Dilbert"},
		"2023-03-12": {ImageURL: "https://assets.amuniversal.com/b", Title: "Last", Timestamp: "20230312101010"},
	}
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"image_url": "https://assets.amuniversal.com/a"`)
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "table.json"), []byte("{broken"), 0o600))
	store, err := local.New(local.Config{BaseDir: dir, File: "table.json"})
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestWatchReloadsTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir, File: "table.json"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := snapshot.NewTable(nil)
	require.NoError(t, store.Watch(ctx, table))

	// an unrelated file in the same directory is ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600))

	require.NoError(t, store.Save(ctx, map[string]snapshot.Entry{"2000-01-01": {ImageURL: "u", Title: "t"}}))
	require.Eventually(t, func() bool { return table.Has("2000-01-01") }, 5*time.Second, 10*time.Millisecond)
}
