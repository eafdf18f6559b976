package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicstreams/internal/fetcher/htmlparse"
	"github.com/JakeFAU/topicstreams/internal/news"
)

var testSelectors = htmlparse.Selectors{Item: "li", Link: "a", Title: "a", Source: "em"}

func resultsServer(t *testing.T, perPage map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Trace") != "yes" {
			http.Error(w, "missing header", http.StatusBadRequest)
			return
		}
		body, ok := perPage[r.URL.Query().Get("start")]
		if !ok {
			body = "<ul></ul>"
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestFetcher(t *testing.T, srv *httptest.Server) *Fetcher {
	t.Helper()
	f, err := New(Config{
		SearchURL: srv.URL + "/search?q={query}&start={start}",
		Timeout:   2 * time.Second,
		Selectors: testSelectors,
		Headers:   http.Header{"X-Trace": {"yes"}},
	}, nil)
	require.NoError(t, err)
	return f
}

func TestFetchWalksPagesAndStopsWhenEmpty(t *testing.T) {
	t.Parallel()

	srv, hits := resultsServer(t, map[string]string{
		"0":  `<ul><li><a href="/a/1">One</a><em>Wire</em></li><li><a href="/a/2">Two</a></li></ul>`,
		"10": `<ul><li><a href="/a/2">Two again</a></li><li><a href="/a/3">Three</a></li></ul>`,
	})
	f := newTestFetcher(t, srv)

	items, err := f.Fetch(context.Background(), "bitcoin", 5)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, srv.URL+"/a/1", items[0].URL)
	require.Equal(t, "Wire", items[0].Source)
	require.Equal(t, srv.URL+"/a/3", items[2].URL)
	require.EqualValues(t, 3, hits.Load())
}

func TestFetchHonorsMaxPages(t *testing.T) {
	t.Parallel()

	srv, hits := resultsServer(t, map[string]string{
		"0":  `<ul><li><a href="/a/1">One</a></li></ul>`,
		"10": `<ul><li><a href="/a/2">Two</a></li></ul>`,
	})
	f := newTestFetcher(t, srv)

	items, err := f.Fetch(context.Background(), "bitcoin", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchReportsStatusCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	f := newTestFetcher(t, srv)

	_, err := f.Fetch(context.Background(), "bitcoin", 1)
	var fe *news.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	f := newTestFetcher(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "bitcoin", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsTemplateWithoutQuery(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SearchURL: "https://search.example/news"}, nil)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f, err := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil)
	require.NoError(t, err)
	var result page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.NotEmpty(t, collyReq.Headers.Get("Accept-Language"))

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("boom"))
	var fe *news.FetchError
	require.ErrorAs(t, fetchErr, &fe)
	require.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, result.status)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
