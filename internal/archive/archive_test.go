package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicstreams/internal/news"
	"github.com/JakeFAU/topicstreams/internal/storage/memory"
)

func TestArchiveWritesSnapshot(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	archiver, err := New(store, "/raw/")
	require.NoError(t, err)

	at := time.Date(2026, 7, 4, 9, 5, 6, 7, time.UTC)
	items := []news.RawItem{{Title: "Bitcoin tops record", URL: "https://a.example/1"}}
	uri, err := archiver.Archive(context.Background(), "climate change", at, items)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "memory://raw/climate-change/2026/07/04/090506.000000007-"), uri)

	paths := store.Paths()
	require.Len(t, paths, 1)
	data, contentType, ok := store.Object(paths[0])
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, "climate change", snap.Topic)
	require.Equal(t, items, snap.Items)
	require.True(t, at.Equal(snap.FetchedAt))
}

func TestArchiveEmptyItemsEncodesArray(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	archiver, err := New(store, "")
	require.NoError(t, err)

	_, err = archiver.Archive(context.Background(), "china", time.Unix(0, 0), nil)
	require.NoError(t, err)
	data, _, ok := store.Object(store.Paths()[0])
	require.True(t, ok)
	require.Contains(t, string(data), `"items":[]`)
	require.True(t, strings.HasPrefix(store.Paths()[0], "snapshots/china/"))
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket not found")
}

func TestArchivePropagatesStoreError(t *testing.T) {
	t.Parallel()

	archiver, err := New(failingStore{}, "")
	require.NoError(t, err)
	_, err = archiver.Archive(context.Background(), "bitcoin", time.Now(), nil)
	require.ErrorContains(t, err, "bucket not found")
}

func TestSlug(t *testing.T) {
	t.Parallel()

	require.Equal(t, "climate-change", slug("climate change"))
	require.Equal(t, "s-p-500", slug("s&p 500"))
	require.Equal(t, "topic", slug("日本"))
	require.Equal(t, "a-b", slug("a -- b!"))
}
