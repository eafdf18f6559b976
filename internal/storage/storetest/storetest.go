// Package storetest holds the behavior every news.Store backend must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicstreams/internal/news"
)

// Factory returns a fresh, empty store. Run closes it when the subtest ends.
type Factory func(t *testing.T) news.Store

// Run executes the shared store suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, store news.Store)
	}{
		{"UpsertCreatesAndReactivates", testUpsertCreatesAndReactivates},
		{"DeactivateUnknownIsNoop", testDeactivateUnknownIsNoop},
		{"ListTopicsNewestFirst", testListTopicsNewestFirst},
		{"InsertIfAbsentDeduplicates", testInsertIfAbsentDeduplicates},
		{"SameURLDifferentTopics", testSameURLDifferentTopics},
		{"QueryItemsPaginates", testQueryItemsPaginates},
		{"QueryItemsUnknownTopic", testQueryItemsUnknownTopic},
		{"VisitLogsNewestFirst", testVisitLogsNewestFirst},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() {
				require.NoError(t, store.Close())
			})
			tc.fn(t, store)
		})
	}
}

var base = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

func testUpsertCreatesAndReactivates(t *testing.T, store news.Store) {
	ctx := context.Background()

	created, err := store.UpsertTopic(ctx, "bitcoin", base)
	require.NoError(t, err)
	require.Equal(t, "bitcoin", created.Name)
	require.True(t, created.Active)
	require.True(t, base.Equal(created.CreatedAt))

	require.NoError(t, store.DeactivateTopic(ctx, "bitcoin"))
	active, err := store.ListTopics(ctx, true)
	require.NoError(t, err)
	require.Empty(t, active)

	again, err := store.UpsertTopic(ctx, "bitcoin", base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, again.Active)
	require.True(t, base.Equal(again.CreatedAt), "reactivation must keep the original creation time")

	all, err := store.ListTopics(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testDeactivateUnknownIsNoop(t *testing.T, store news.Store) {
	ctx := context.Background()

	require.NoError(t, store.DeactivateTopic(ctx, "nobody-added-this"))
	all, err := store.ListTopics(ctx, false)
	require.NoError(t, err)
	require.Empty(t, all)
}

func testListTopicsNewestFirst(t *testing.T, store news.Store) {
	ctx := context.Background()

	for i, name := range []string{"bitcoin", "china", "climate change"} {
		_, err := store.UpsertTopic(ctx, name, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	require.NoError(t, store.DeactivateTopic(ctx, "china"))

	all, err := store.ListTopics(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []string{"climate change", "china", "bitcoin"}, topicNames(all))

	active, err := store.ListTopics(ctx, true)
	require.NoError(t, err)
	require.Equal(t, []string{"climate change", "bitcoin"}, topicNames(active))
}

func testInsertIfAbsentDeduplicates(t *testing.T, store news.Store) {
	ctx := context.Background()

	raw := news.RawItem{
		Title:   "Bitcoin tops record",
		URL:     "https://www.coindesk.com/markets/1",
		Source:  "CoinDesk",
		Domain:  "coindesk.com",
		Snippet: "Prices rallied overnight.",
	}
	item, created, err := store.InsertIfAbsent(ctx, "bitcoin", raw)
	require.NoError(t, err)
	require.True(t, created)
	require.Positive(t, item.ID)
	require.Equal(t, "bitcoin", item.Topic)
	require.Equal(t, raw.Title, item.Title)
	require.Equal(t, raw.URL, item.URL)
	require.Equal(t, raw.Source, item.Source)
	require.Equal(t, raw.Domain, item.Domain)
	require.Equal(t, raw.Snippet, item.Snippet)
	require.False(t, item.ScrapedAt.IsZero())

	raw.Title = "Bitcoin tops record (updated)"
	_, created, err = store.InsertIfAbsent(ctx, "bitcoin", raw)
	require.NoError(t, err)
	require.False(t, created)

	items, total, err := store.QueryItems(ctx, "bitcoin", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Bitcoin tops record", items[0].Title)
}

func testSameURLDifferentTopics(t *testing.T, store news.Store) {
	ctx := context.Background()

	raw := news.RawItem{Title: "Trade talks", URL: "https://news.example/trade"}
	_, created, err := store.InsertIfAbsent(ctx, "china", raw)
	require.NoError(t, err)
	require.True(t, created)
	_, created, err = store.InsertIfAbsent(ctx, "tariffs", raw)
	require.NoError(t, err)
	require.True(t, created)
}

func testQueryItemsPaginates(t *testing.T, store news.Store) {
	ctx := context.Background()

	var ids []int64
	for i := range 5 {
		item, created, err := store.InsertIfAbsent(ctx, "bitcoin", news.RawItem{
			Title: fmt.Sprintf("story %d", i),
			URL:   fmt.Sprintf("https://news.example/btc/%d", i),
		})
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, item.ID)
	}
	_, _, err := store.InsertIfAbsent(ctx, "china", news.RawItem{Title: "other", URL: "https://news.example/cn"})
	require.NoError(t, err)

	page, total, err := store.QueryItems(ctx, "bitcoin", 2, 1)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, ids[3], page[0].ID)
	require.Equal(t, ids[2], page[1].ID)
	require.False(t, page[0].ScrapedAt.Before(page[1].ScrapedAt))

	tail, total, err := store.QueryItems(ctx, "bitcoin", 10, 4)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, tail, 1)
	require.Equal(t, ids[0], tail[0].ID)

	beyond, total, err := store.QueryItems(ctx, "bitcoin", 10, 50)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, beyond)
}

func testQueryItemsUnknownTopic(t *testing.T, store news.Store) {
	items, total, err := store.QueryItems(context.Background(), "never seen", 20, 0)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)
}

func testVisitLogsNewestFirst(t *testing.T, store news.Store) {
	ctx := context.Background()

	status := 429
	message := "rate limited"
	first, err := store.AppendVisitLog(ctx, news.VisitLog{Topic: "bitcoin", AttemptedAt: base, Success: true})
	require.NoError(t, err)
	require.Positive(t, first.ID)
	second, err := store.AppendVisitLog(ctx, news.VisitLog{
		Topic:        "china",
		AttemptedAt:  base.Add(time.Second),
		Success:      false,
		StatusCode:   &status,
		ErrorMessage: &message,
	})
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)
	_, err = store.AppendVisitLog(ctx, news.VisitLog{Topic: "bitcoin", AttemptedAt: base.Add(2 * time.Second), Success: true})
	require.NoError(t, err)

	logs, err := store.ListVisitLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.True(t, base.Add(2*time.Second).Equal(logs[0].AttemptedAt))
	require.Equal(t, "china", logs[1].Topic)
	require.False(t, logs[1].Success)
	require.NotNil(t, logs[1].StatusCode)
	require.Equal(t, 429, *logs[1].StatusCode)
	require.NotNil(t, logs[1].ErrorMessage)
	require.Equal(t, "rate limited", *logs[1].ErrorMessage)
	require.Nil(t, logs[0].StatusCode)
	require.Nil(t, logs[0].ErrorMessage)
}

func topicNames(topics []news.Topic) []string {
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		out = append(out, topic.Name)
	}
	return out
}
