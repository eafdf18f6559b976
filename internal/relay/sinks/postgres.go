package sinks

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/topicstreams/internal/relay"
)

// DefaultNotifyChannel is the LISTEN channel used when none is configured.
const DefaultNotifyChannel = "news_inserted"

var validChannel = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NotifySink issues pg_notify for each event so LISTEN clients on the same
// database see inserts without polling.
type NotifySink struct {
	db      execer
	channel string
}

// NewNotifySink validates channel and returns a sink over db.
func NewNotifySink(db execer, channel string) (*NotifySink, error) {
	if db == nil {
		return nil, errors.New("postgres pool is required")
	}
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	if !validChannel.MatchString(channel) {
		return nil, fmt.Errorf("invalid notify channel %q", channel)
	}
	return &NotifySink{db: db, channel: channel}, nil
}

// Name labels the sink in metrics.
func (s *NotifySink) Name() string { return "postgres" }

// Consume sends one notification per event. It stops at the first failure.
func (s *NotifySink) Consume(ctx context.Context, batch []relay.Event) error {
	for _, evt := range batch {
		payload, err := evt.Payload()
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, "SELECT pg_notify($1, $2)", s.channel, string(payload)); err != nil {
			return fmt.Errorf("pg_notify item %d: %w", evt.Item.ID, err)
		}
	}
	return nil
}

// Close is a no-op; the pool belongs to the store.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
