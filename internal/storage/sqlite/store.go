// Package sqlite persists topics, items and visit logs in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/topicstreams/internal/clock/system"
	"github.com/JakeFAU/topicstreams/internal/news"
)

const schema = `
CREATE TABLE IF NOT EXISTS topics (
	name       TEXT PRIMARY KEY,
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS news_entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL DEFAULT '',
	snippet    TEXT NOT NULL DEFAULT '',
	scraped_at INTEGER NOT NULL,
	UNIQUE (topic, url)
);

CREATE INDEX IF NOT EXISTS idx_news_entries_topic_scraped
	ON news_entries (topic, scraped_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS scraper_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	topic         TEXT NOT NULL,
	attempted_at  INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	status_code   INTEGER,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_scraper_logs_attempted
	ON scraper_logs (attempted_at DESC, id DESC);
`

// Store implements news.Store on SQLite. Timestamps are stored as Unix nanoseconds.
type Store struct {
	db    *sqlx.DB
	clock news.Clock

	// mu orders item inserts so scraped_at is non-decreasing with id.
	mu          sync.Mutex
	lastScraped int64
}

// New opens (creating when needed) the database at path and applies the schema.
func New(ctx context.Context, path string, clock news.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if clock == nil {
		clock = system.New()
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; queue in Go rather than on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{db: db, clock: clock}
	if err := db.GetContext(ctx, &s.lastScraped, "SELECT COALESCE(MAX(scraped_at), 0) FROM news_entries"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load last scraped_at: %w", err)
	}
	return s, nil
}

type topicRow struct {
	Name      string `db:"name"`
	Active    bool   `db:"is_active"`
	CreatedAt int64  `db:"created_at"`
}

func (r topicRow) topic() news.Topic {
	return news.Topic{Name: r.Name, Active: r.Active, CreatedAt: fromNanos(r.CreatedAt)}
}

type itemRow struct {
	ID        int64  `db:"id"`
	Topic     string `db:"topic"`
	Title     string `db:"title"`
	URL       string `db:"url"`
	Source    string `db:"source"`
	Domain    string `db:"domain"`
	Snippet   string `db:"snippet"`
	ScrapedAt int64  `db:"scraped_at"`
}

type logRow struct {
	ID           int64          `db:"id"`
	Topic        string         `db:"topic"`
	AttemptedAt  int64          `db:"attempted_at"`
	Success      bool           `db:"success"`
	StatusCode   sql.NullInt64  `db:"status_code"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// UpsertTopic inserts name as active or flips an existing row back to active.
func (s *Store) UpsertTopic(ctx context.Context, name string, now time.Time) (news.Topic, error) {
	const query = `
INSERT INTO topics (name, is_active, created_at) VALUES (?, 1, ?)
ON CONFLICT (name) DO UPDATE SET is_active = 1
RETURNING name, is_active, created_at`
	var row topicRow
	if err := s.db.GetContext(ctx, &row, query, name, now.UnixNano()); err != nil {
		return news.Topic{}, fmt.Errorf("upsert topic: %w", err)
	}
	return row.topic(), nil
}

// DeactivateTopic clears the active flag; unknown names update nothing.
func (s *Store) DeactivateTopic(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE topics SET is_active = 0 WHERE name = ?", name); err != nil {
		return fmt.Errorf("deactivate topic: %w", err)
	}
	return nil
}

// ListTopics returns topics newest first.
func (s *Store) ListTopics(ctx context.Context, activeOnly bool) ([]news.Topic, error) {
	query := "SELECT name, is_active, created_at FROM topics"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY created_at DESC, name ASC"
	var rows []topicRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	out := make([]news.Topic, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.topic())
	}
	return out, nil
}

// InsertIfAbsent relies on the (topic, url) unique key; a conflict returns no row.
func (s *Store) InsertIfAbsent(ctx context.Context, topic string, raw news.RawItem) (news.Item, bool, error) {
	const query = `
INSERT INTO news_entries (topic, title, url, source, domain, snippet, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (topic, url) DO NOTHING
RETURNING id`
	s.mu.Lock()
	defer s.mu.Unlock()

	scrapedAt := max(s.clock.Now().UnixNano(), s.lastScraped)
	var id int64
	err := s.db.QueryRowxContext(ctx, query,
		topic, raw.Title, raw.URL, raw.Source, raw.Domain, raw.Snippet, scrapedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return news.Item{}, false, nil
	}
	if err != nil {
		return news.Item{}, false, fmt.Errorf("insert item: %w", err)
	}
	s.lastScraped = scrapedAt
	return news.NewItem(topic, raw, id, fromNanos(scrapedAt)), true, nil
}

// QueryItems pages through a topic newest first and counts the topic's rows.
func (s *Store) QueryItems(ctx context.Context, topic string, limit, offset int) ([]news.Item, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM news_entries WHERE topic = ?", topic); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}
	const query = `
SELECT id, topic, title, url, source, domain, snippet, scraped_at
FROM news_entries
WHERE topic = ?
ORDER BY scraped_at DESC, id DESC
LIMIT ? OFFSET ?`
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, topic, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	out := make([]news.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, news.Item{
			ID:        row.ID,
			Topic:     row.Topic,
			Title:     row.Title,
			URL:       row.URL,
			Source:    row.Source,
			Domain:    row.Domain,
			Snippet:   row.Snippet,
			ScrapedAt: fromNanos(row.ScrapedAt),
		})
	}
	return out, total, nil
}

// AppendVisitLog inserts one scraper_logs row.
func (s *Store) AppendVisitLog(ctx context.Context, entry news.VisitLog) (news.VisitLog, error) {
	const query = `
INSERT INTO scraper_logs (topic, attempted_at, success, status_code, error_message)
VALUES (?, ?, ?, ?, ?)
RETURNING id`
	var code sql.NullInt64
	if entry.StatusCode != nil {
		code = sql.NullInt64{Int64: int64(*entry.StatusCode), Valid: true}
	}
	var message sql.NullString
	if entry.ErrorMessage != nil {
		message = sql.NullString{String: *entry.ErrorMessage, Valid: true}
	}
	if err := s.db.GetContext(ctx, &entry.ID, query,
		entry.Topic, entry.AttemptedAt.UnixNano(), entry.Success, code, message,
	); err != nil {
		return news.VisitLog{}, fmt.Errorf("append visit log: %w", err)
	}
	return entry, nil
}

// ListVisitLogs returns the newest limit logs.
func (s *Store) ListVisitLogs(ctx context.Context, limit int) ([]news.VisitLog, error) {
	const query = `
SELECT id, topic, attempted_at, success, status_code, error_message
FROM scraper_logs
ORDER BY attempted_at DESC, id DESC
LIMIT ?`
	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list visit logs: %w", err)
	}
	out := make([]news.VisitLog, 0, len(rows))
	for _, row := range rows {
		entry := news.VisitLog{
			ID:          row.ID,
			Topic:       row.Topic,
			AttemptedAt: fromNanos(row.AttemptedAt),
			Success:     row.Success,
		}
		if row.StatusCode.Valid {
			code := int(row.StatusCode.Int64)
			entry.StatusCode = &code
		}
		if row.ErrorMessage.Valid {
			message := row.ErrorMessage.String
			entry.ErrorMessage = &message
		}
		out = append(out, entry)
	}
	return out, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
