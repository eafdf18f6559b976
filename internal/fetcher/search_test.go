package fetcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchURL(t *testing.T) {
	t.Parallel()

	got, err := SearchURL("https://news.example/search?q={query}&start={start}&p={page}", "climate change", 2)
	require.NoError(t, err)
	require.Equal(t, "https://news.example/search?q=climate+change&start=20&p=3", got)
}

func TestSearchURLDefaultTemplate(t *testing.T) {
	t.Parallel()

	got, err := SearchURL("", "bitcoin", 0)
	require.NoError(t, err)
	require.Contains(t, got, "q=bitcoin")
	require.Contains(t, got, "start=0")
}

func TestSearchURLRequiresQuery(t *testing.T) {
	t.Parallel()

	_, err := SearchURL("https://news.example/search", "bitcoin", 0)
	require.Error(t, err)
}
