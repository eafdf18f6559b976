package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicstreams/internal/news"
)

func feedWith(n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>search</title>`)
	for i := range n {
		fmt.Fprintf(&b, `<item><title>Story %d - Daily Wire</title><link>https://news.example/%d</link>`+
			`<description>&lt;a href="x"&gt;Story %d&lt;/a&gt; &lt;font&gt;Daily Wire&lt;/font&gt;</description></item>`, i, i, i)
	}
	b.WriteString(`<item><title>No link</title></item></channel></rss>`)
	return b.String()
}

func newFeedServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Get("q"))
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &query
}

func TestFetchParsesFeed(t *testing.T) {
	t.Parallel()

	srv, query := newFeedServer(t, http.StatusOK, feedWith(3))
	f, err := New(Config{FeedURL: srv.URL + "/rss?q={query}"}, nil)
	require.NoError(t, err)

	items, err := f.Fetch(context.Background(), "climate change", 1)
	require.NoError(t, err)
	require.Equal(t, "climate change", query.Load())
	require.Len(t, items, 3)
	require.Equal(t, news.RawItem{
		Title:   "Story 0",
		URL:     "https://news.example/0",
		Source:  "Daily Wire",
		Snippet: "Story 0 Daily Wire",
	}, items[0])
}

func TestFetchCapsByPages(t *testing.T) {
	t.Parallel()

	srv, _ := newFeedServer(t, http.StatusOK, feedWith(25))
	f, err := New(Config{FeedURL: srv.URL + "/rss?q={query}"}, nil)
	require.NoError(t, err)

	items, err := f.Fetch(context.Background(), "bitcoin", 2)
	require.NoError(t, err)
	require.Len(t, items, 20)
}

func TestFetchReportsHTTPStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newFeedServer(t, http.StatusServiceUnavailable, "down")
	f, err := New(Config{FeedURL: srv.URL + "/rss?q={query}"}, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "bitcoin", 1)
	var fe *news.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
}

func TestSplitSource(t *testing.T) {
	t.Parallel()

	title, source := splitSource("Markets - slide - Reuters")
	require.Equal(t, "Markets - slide", title)
	require.Equal(t, "Reuters", source)

	title, source = splitSource("Plain headline")
	require.Equal(t, "Plain headline", title)
	require.Empty(t, source)
}
