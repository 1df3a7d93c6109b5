package comic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDirectoryDefaultsSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "comics.json")
	body := `[
		{"endpoint":"garfield","title":"Garfield","author":"Jim Davis","available":true},
		{"endpoint":"blondie","title":"Blondie","available":true,"source":"comicsrss"},
		{"endpoint":"dilbert","title":"Dilbert","available":true,"startDate":"1989-04-16","source":"dilbert"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)

	s, ok := dir.Lookup("garfield")
	require.True(t, ok)
	require.Equal(t, DefaultSourceName, s.Source)
	require.True(t, dir.OwnedBy("blondie", "comicsrss"))
	require.False(t, dir.OwnedBy("blondie", "gocomics"))
	require.Equal(t, "Garfield", dir.Title("garfield"))
	require.Equal(t, "unknown-strip", dir.Title("unknown-strip"))
	require.Equal(t, []string{"garfield", "blondie", "dilbert"}, dir.Endpoints())

	owned := dir.BySource("comicsrss")
	require.Len(t, owned, 1)
	require.Equal(t, "blondie", owned[0].Endpoint)
	require.Empty(t, dir.BySource("xkcd"))
}

func TestLoadDirectoryErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadDirectory(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err = LoadDirectory(path)
	require.Error(t, err)
}

func TestDirectorySearch(t *testing.T) {
	t.Parallel()

	dir := NewDirectory([]Series{
		{Endpoint: "peanuts", Title: "Peanuts", Author: "Charles Schulz"},
		{Endpoint: "garfield", Title: "Garfield", Author: "Jim Davis"},
		{Endpoint: "calvinandhobbes", Title: "Calvin and Hobbes", Author: "Bill Watterson"},
	})

	all := dir.Search("")
	require.Len(t, all, 3)
	require.Equal(t, "Calvin and Hobbes", all[0].Title)

	require.Len(t, dir.Search("DAVIS"), 1)
	require.Len(t, dir.Search("hobbes"), 1)
	require.Empty(t, dir.Search("nothing"))
}
