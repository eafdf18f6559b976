// Package postgres persists topics, items and visit logs in Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/topicstreams/internal/news"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements news.Store on Postgres.
type Store struct {
	pool pool
}

// NewPool opens a pgx pool using cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// NewStore wraps an existing pool. The store takes ownership and closes it on Close.
func NewStore(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// UpsertTopic inserts name as active or reactivates it.
func (s *Store) UpsertTopic(ctx context.Context, name string, now time.Time) (news.Topic, error) {
	const query = `
INSERT INTO topics (name, is_active, created_at) VALUES ($1, TRUE, $2)
ON CONFLICT (name) DO UPDATE SET is_active = TRUE
RETURNING name, is_active, created_at`
	var topic news.Topic
	if err := s.pool.QueryRow(ctx, query, name, now).Scan(&topic.Name, &topic.Active, &topic.CreatedAt); err != nil {
		return news.Topic{}, fmt.Errorf("upsert topic: %w", err)
	}
	topic.CreatedAt = topic.CreatedAt.UTC()
	return topic, nil
}

// DeactivateTopic clears the active flag; unknown names update nothing.
func (s *Store) DeactivateTopic(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, "UPDATE topics SET is_active = FALSE WHERE name = $1", name); err != nil {
		return fmt.Errorf("deactivate topic: %w", err)
	}
	return nil
}

// ListTopics returns topics newest first.
func (s *Store) ListTopics(ctx context.Context, activeOnly bool) ([]news.Topic, error) {
	query := "SELECT name, is_active, created_at FROM topics"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY created_at DESC, name ASC"
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var out []news.Topic
	for rows.Next() {
		var topic news.Topic
		if err := rows.Scan(&topic.Name, &topic.Active, &topic.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topic.CreatedAt = topic.CreatedAt.UTC()
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return out, nil
}

// InsertIfAbsent relies on the (topic, url) unique constraint. A conflict
// returns no row, which reports the item as already present.
func (s *Store) InsertIfAbsent(ctx context.Context, topic string, raw news.RawItem) (news.Item, bool, error) {
	const query = `
INSERT INTO news_entries (topic, title, url, source, domain, snippet)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (topic, url) DO NOTHING
RETURNING id, scraped_at`
	var (
		id        int64
		scrapedAt time.Time
	)
	err := s.pool.QueryRow(ctx, query,
		topic, raw.Title, raw.URL, raw.Source, raw.Domain, raw.Snippet,
	).Scan(&id, &scrapedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return news.Item{}, false, nil
	}
	if err != nil {
		return news.Item{}, false, fmt.Errorf("insert item: %w", err)
	}
	return news.NewItem(topic, raw, id, scrapedAt.UTC()), true, nil
}

// QueryItems pages through a topic newest first and counts the topic's rows.
func (s *Store) QueryItems(ctx context.Context, topic string, limit, offset int) ([]news.Item, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM news_entries WHERE topic = $1", topic).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}
	const query = `
SELECT id, topic, title, url, source, domain, snippet, scraped_at
FROM news_entries
WHERE topic = $1
ORDER BY scraped_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, topic, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	out := make([]news.Item, 0, limit)
	for rows.Next() {
		var item news.Item
		if err := rows.Scan(
			&item.ID, &item.Topic, &item.Title, &item.URL,
			&item.Source, &item.Domain, &item.Snippet, &item.ScrapedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		item.ScrapedAt = item.ScrapedAt.UTC()
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	return out, total, nil
}

// AppendVisitLog inserts one scraper_logs row and returns it with its ID.
func (s *Store) AppendVisitLog(ctx context.Context, entry news.VisitLog) (news.VisitLog, error) {
	const query = `
INSERT INTO scraper_logs (topic, attempted_at, success, status_code, error_message)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	if err := s.pool.QueryRow(ctx, query,
		entry.Topic, entry.AttemptedAt, entry.Success, entry.StatusCode, entry.ErrorMessage,
	).Scan(&entry.ID); err != nil {
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
LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list visit logs: %w", err)
	}
	defer rows.Close()

	out := make([]news.VisitLog, 0, limit)
	for rows.Next() {
		var entry news.VisitLog
		if err := rows.Scan(
			&entry.ID, &entry.Topic, &entry.AttemptedAt,
			&entry.Success, &entry.StatusCode, &entry.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan visit log: %w", err)
		}
		entry.AttemptedAt = entry.AttemptedAt.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list visit logs: %w", err)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
