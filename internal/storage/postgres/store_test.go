package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicstreams/internal/news"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewStore(mock)
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return store, mock
}

func TestNewStoreRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestUpsertTopicReturnsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)

	mock.ExpectQuery("INSERT INTO topics").
		WithArgs("bitcoin", now).
		WillReturnRows(mock.NewRows([]string{"name", "is_active", "created_at"}).
			AddRow("bitcoin", true, created))

	topic, err := store.UpsertTopic(context.Background(), "bitcoin", now)
	require.NoError(t, err)
	require.Equal(t, news.Topic{Name: "bitcoin", Active: true, CreatedAt: created}, topic)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateTopic(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE topics SET is_active = FALSE").
		WithArgs("china").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.DeactivateTopic(context.Background(), "china"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTopicsActiveOnly(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	newer := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	mock.ExpectQuery("SELECT name, is_active, created_at FROM topics WHERE is_active").
		WillReturnRows(mock.NewRows([]string{"name", "is_active", "created_at"}).
			AddRow("china", true, newer).
			AddRow("bitcoin", true, older))

	topics, err := store.ListTopics(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, "china", topics[0].Name)
	require.Equal(t, "bitcoin", topics[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentCreatesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scraped := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	raw := news.RawItem{
		Title:   "Bitcoin tops record",
		URL:     "https://www.coindesk.com/markets/1",
		Source:  "CoinDesk",
		Domain:  "coindesk.com",
		Snippet: "Prices rallied.",
	}
	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("bitcoin", raw.Title, raw.URL, raw.Source, raw.Domain, raw.Snippet).
		WillReturnRows(mock.NewRows([]string{"id", "scraped_at"}).AddRow(int64(42), scraped))

	item, created, err := store.InsertIfAbsent(context.Background(), "bitcoin", raw)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(42), item.ID)
	require.Equal(t, scraped, item.ScrapedAt)
	require.Equal(t, "coindesk.com", item.Domain)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentConflictIsNotAnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	raw := news.RawItem{Title: "dup", URL: "https://a.example/1"}
	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("bitcoin", raw.Title, raw.URL, "", "", "").
		WillReturnError(pgx.ErrNoRows)

	_, created, err := store.InsertIfAbsent(context.Background(), "bitcoin", raw)
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentPropagatesFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("bitcoin", "", "https://a.example/1", "", "", "").
		WillReturnError(errors.New("connection reset"))

	_, _, err := store.InsertIfAbsent(context.Background(), "bitcoin", news.RawItem{URL: "https://a.example/1"})
	require.ErrorContains(t, err, "insert item")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryItemsCountsAndPages(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	t1 := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("bitcoin").
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("SELECT id, topic, title, url, source, domain, snippet, scraped_at").
		WithArgs("bitcoin", 2, 1).
		WillReturnRows(mock.NewRows([]string{"id", "topic", "title", "url", "source", "domain", "snippet", "scraped_at"}).
			AddRow(int64(4), "bitcoin", "four", "https://a.example/4", "", "a.example", "", t1).
			AddRow(int64(3), "bitcoin", "three", "https://a.example/3", "", "a.example", "", t0))

	items, total, err := store.QueryItems(context.Background(), "bitcoin", 2, 1)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, items, 2)
	require.Equal(t, int64(4), items[0].ID)
	require.Equal(t, t0, items[1].ScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendVisitLogPassesNullableColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2026, 2, 5, 7, 0, 0, 0, time.UTC)
	code := 429
	message := "rate limited"
	entry := news.VisitLog{Topic: "china", AttemptedAt: at, StatusCode: &code, ErrorMessage: &message}

	mock.ExpectQuery("INSERT INTO scraper_logs").
		WithArgs("china", at, false, &code, &message).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

	stored, err := store.AppendVisitLog(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, int64(7), stored.ID)
	require.Equal(t, 429, *stored.StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListVisitLogs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2026, 2, 5, 7, 0, 0, 0, time.UTC)
	code := 503
	message := "unavailable"
	mock.ExpectQuery("FROM scraper_logs").
		WithArgs(10).
		WillReturnRows(mock.NewRows([]string{"id", "topic", "attempted_at", "success", "status_code", "error_message"}).
			AddRow(int64(2), "china", at, false, &code, &message).
			AddRow(int64(1), "bitcoin", at.Add(-time.Minute), true, (*int)(nil), (*string)(nil)))

	logs, err := store.ListVisitLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, 503, *logs[0].StatusCode)
	require.Equal(t, "unavailable", *logs[0].ErrorMessage)
	require.True(t, logs[1].Success)
	require.Nil(t, logs[1].StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStore(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@db:5432/news?sslmode=disable", migrationURL("postgres://u:p@db:5432/news?sslmode=disable"))
	require.Equal(t, "pgx5://db/news", migrationURL("postgresql://db/news"))
	require.Equal(t, "pgx5://db/news", migrationURL("pgx5://db/news"))
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
