package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"topic":"bitcoin"}`)
	uri, err := store.PutObject(context.Background(), "snapshots/bitcoin/1.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/bitcoin/1.json", uri)

	payload[0] = '['
	got, contentType, ok := store.Object("snapshots/bitcoin/1.json")
	require.True(t, ok)
	require.Equal(t, `{"topic":"bitcoin"}`, string(got))
	require.Equal(t, "application/json", contentType)
	require.Equal(t, []string{"snapshots/bitcoin/1.json"}, store.Paths())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "  ", "text/plain", []byte("x"))
	require.Error(t, err)
}
