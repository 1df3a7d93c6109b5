package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/ashmod/panels/internal/snapshot"
)

const (
	testBucket = "test-bucket"
	testObject = "dilbert_cache.json"
)

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: testBucket, Object: testObject}, nil)
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b", Object: "o"}, nil)
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = New(client, Config{Object: "o"}, nil)
	assert.Error(t, err)
	_, err = New(client, Config{Bucket: "b"}, nil)
	assert.Error(t, err)
}

func TestLoadMissingObjectIsEmpty(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadDecodesObject(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/"+testObject) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Goog-Generation", "1")
		_, _ = w.Write([]byte(`{"2000-01-01":{"image_url":"https://a/b.gif","title":"Dilbert"}}`))
	}))
	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]snapshot.Entry{"2000-01-01": {ImageURL: "https://a/b.gif", Title: "Dilbert"}}, entries)
}

func TestSaveUploadsTable(t *testing.T) {
	t.Parallel()

	bodies := make(chan string, 1)
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/"+testBucket+"/o")
		assert.Equal(t, testObject, r.URL.Query().Get("name"))
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		_, _ = w.Write([]byte(`{"name":"` + testObject + `","bucket":"` + testBucket + `"}`))
	}))

	err := store.Save(context.Background(), map[string]snapshot.Entry{"2000-01-01": {ImageURL: "https://a/b.gif", Title: "Dilbert"}})
	require.NoError(t, err)
	body := <-bodies
	assert.Contains(t, body, `"image_url": "https://a/b.gif"`)
	assert.Contains(t, body, "application/json")
}

func TestSaveError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	err := store.Save(context.Background(), map[string]snapshot.Entry{})
	assert.Error(t, err)
}
