package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticStore struct {
	entries map[string]Entry
	err     error
}

func (s staticStore) Load(context.Context) (map[string]Entry, error) { return s.entries, s.err }

func (s staticStore) Save(context.Context, map[string]Entry) error { return nil }

func TestTableOperations(t *testing.T) {
	t.Parallel()

	src := map[string]Entry{"2020-01-01": {ImageURL: "https://a/1.gif", Title: "One"}}
	table := NewTable(src)
	src["2020-01-02"] = Entry{}
	require.Equal(t, 1, table.Len(), "table must not alias the input map")

	require.True(t, table.Has("2020-01-01"))
	require.False(t, table.Has("2020-01-02"))

	table.Put("2020-01-02", Entry{ImageURL: "https://a/2.gif", Title: "Two"})
	e, ok := table.Get("2020-01-02")
	require.True(t, ok)
	require.Equal(t, "Two", e.Title)

	snap := table.Snapshot()
	delete(snap, "2020-01-01")
	require.Equal(t, 2, table.Len(), "snapshot must be a copy")

	table.Replace(nil)
	require.Zero(t, table.Len())
	table.Put("2021-01-01", Entry{})
	require.Equal(t, 1, table.Len())
}

func TestTableConcurrentWriters(t *testing.T) {
	t.Parallel()

	table := NewTable(nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				table.Put(fmt.Sprintf("%d-%d", w, i), Entry{Title: "t"})
				_ = table.Snapshot()
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 400, table.Len())
}

func TestReload(t *testing.T) {
	t.Parallel()

	table := NewTable(map[string]Entry{"old": {}})
	require.NoError(t, table.Reload(context.Background(), staticStore{entries: map[string]Entry{"new": {Title: "n"}}}))
	require.False(t, table.Has("old"))
	require.True(t, table.Has("new"))

	boom := errors.New("boom")
	require.ErrorIs(t, table.Reload(context.Background(), staticStore{err: boom}), boom)
	require.True(t, table.Has("new"), "failed reload keeps current content")
}

func TestCodec(t *testing.T) {
	t.Parallel()

	raw, err := Encode(map[string]Entry{
		"2020-01-02": {ImageURL: "https://a/2.gif", Title: "Two", Timestamp: "20200102000000"},
		"2020-01-01": {ImageURL: "https://a/1.gif", Title: "One"},
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), "\n  \"2020-01-01\": {")
	require.Contains(t, string(raw), `"image_url": "https://a/1.gif"`)
	require.Less(t, strings.Index(string(raw), "2020-01-01"), strings.Index(string(raw), "2020-01-02"))
	require.Equal(t, 1, strings.Count(string(raw), "timestamp"))

	back, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, back, 2)
	require.Equal(t, "20200102000000", back["2020-01-02"].Timestamp)

	empty, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = Decode([]byte("{not json"))
	require.Error(t, err)

	raw, err = Encode(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))
}
