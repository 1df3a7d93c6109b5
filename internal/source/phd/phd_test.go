package phd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/comic"
	collyfetcher "github.com/ashmod/panels/internal/fetcher/colly"
	"github.com/ashmod/panels/internal/source"
)

type fixedRand struct{ n int }

func (r fixedRand) IntN(n int) int { return r.n % n }

func comicPage(id int, links ...int) string {
	nav := ""
	for _, l := range links {
		nav += fmt.Sprintf(`<a href='archive.php?comicid=%d'>link</a>`, l)
	}
	return fmt.Sprintf(`<html><head><title>PHD Comics: Strip number %d </title>
<meta property='og:image' content='http://www.phdcomics.com/comics/archive/phd%04d.gif'/>
</head><body>%s<a href="https://example.com/?comicid=abc">bad</a></body></html>`, id, id, nav)
}

func newServer(t *testing.T, latest int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		idParam := r.URL.Query().Get("comicid")
		if idParam == "" {
			_, _ = w.Write([]byte(comicPage(latest, 1, latest-1, latest, latest)))
			return
		}
		var id int
		_, _ = fmt.Sscanf(idParam, "%d", &id)
		if id < 1 || id > latest {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(comicPage(id, 1, id-1, id+1, latest)))
	}))
}

func newTestSource(t *testing.T, baseURL string, rnd comic.Rand, excluded ...int) (*Source, *cache.Cache) {
	t.Helper()
	c, err := cache.New(cache.Config{MaxEntries: 100, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return New(Config{
		BaseURL:  baseURL + "/comics/archive.php",
		Options:  source.Options{Retries: 0, Timeout: 2 * time.Second},
		Excluded: excluded,
		Cache:    c,
		Fetcher:  collyfetcher.New(collyfetcher.Config{RetryDelay: time.Millisecond}),
		Rand:     rnd,
	}), c
}

func TestFetchByIdentifierNavigation(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, 2000, &hits)
	defer srv.Close()

	src, c := newTestSource(t, srv.URL, fixedRand{})
	strip, err := src.FetchByIdentifier(context.Background(), Endpoint, "#1500")
	require.NoError(t, err)
	require.NotNil(t, strip)
	require.Equal(t, "#1500", strip.Identifier)
	require.Equal(t, "Strip number 1500", strip.Title)
	require.Equal(t, "http://www.phdcomics.com/comics/archive/phd1500.gif", strip.ImageURL)
	require.Equal(t, srv.URL+"/comics/archive.php?comicid=1500", strip.SourceURL)
	require.Equal(t, "#1499", strip.Prev)
	require.Equal(t, "#1501", strip.Next)

	_, ok := c.Get("phd:#1500")
	require.True(t, ok)
}

func TestFetchByIdentifierBoundaries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, 2000, &hits)
	defer srv.Close()

	src, _ := newTestSource(t, srv.URL, fixedRand{})
	first, err := src.FetchByIdentifier(context.Background(), Endpoint, "1")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Empty(t, first.Prev)
	require.Equal(t, "#2", first.Next)

	missing, err := src.FetchByIdentifier(context.Background(), Endpoint, "#5000")
	require.NoError(t, err)
	require.Nil(t, missing)

	before := hits.Load()
	_, err = src.FetchByIdentifier(context.Background(), Endpoint, "#abc")
	require.ErrorIs(t, err, comic.ErrInvalidParameter)
	require.Equal(t, before, hits.Load())
}

func TestFetchLatestUsesMaxNavigationID(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, 2000, &hits)
	defer srv.Close()

	src, c := newTestSource(t, srv.URL, fixedRand{})
	strip, err := src.FetchLatest(context.Background(), Endpoint)
	require.NoError(t, err)
	require.NotNil(t, strip)
	require.Equal(t, "#2000", strip.Identifier)
	require.Equal(t, "#1999", strip.Prev)
	require.Empty(t, strip.Next)

	_, ok := c.Get("phd:latest")
	require.True(t, ok)
	_, ok = c.Get("phd:#2000")
	require.True(t, ok)

	again, err := src.FetchLatest(context.Background(), Endpoint)
	require.NoError(t, err)
	require.Equal(t, strip.Identifier, again.Identifier)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchRandomSkipsExcludedIDs(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, 10, &hits)
	defer srv.Close()

	// slot 3 would be id 4; excluding 4 pushes it to 5
	src, _ := newTestSource(t, srv.URL, fixedRand{n: 3}, 4)
	strip, err := src.FetchRandom(context.Background(), Endpoint)
	require.NoError(t, err)
	require.NotNil(t, strip)
	require.Equal(t, "#5", strip.Identifier)
}

func TestSequenceOrdering(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, 50, &hits)
	defer srv.Close()

	src, _ := newTestSource(t, srv.URL, fixedRand{})
	for _, id := range []int{1, 2, 25, 49, 50} {
		strip, err := src.FetchByIdentifier(context.Background(), Endpoint, comic.SequenceID(id))
		require.NoError(t, err)
		require.NotNil(t, strip)
		if strip.Prev != "" {
			prev, err := comic.ParseSequence(strip.Prev)
			require.NoError(t, err)
			require.Less(t, prev, id)
		} else {
			require.Equal(t, 1, id)
		}
		if strip.Next != "" {
			next, err := comic.ParseSequence(strip.Next)
			require.NoError(t, err)
			require.Greater(t, next, id)
		}
	}
}

func TestParsePageDeduplicatesIDs(t *testing.T) {
	t.Parallel()

	parsed, err := parsePage([]byte(comicPage(7, 9, 3, 9, 5)))
	require.NoError(t, err)
	require.Equal(t, []int{3, 5, 9}, parsed.ids)
	require.Equal(t, "Strip number 7", parsed.title)

	parsed, err = parsePage([]byte(`<html><head><meta property="og:image" content="https://phdcomics.com/logo.png"></head></html>`))
	require.NoError(t, err)
	require.Empty(t, parsed.imageURL)
	require.Empty(t, parsed.ids)
}
