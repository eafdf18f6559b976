package news

import (
	"context"
	"time"
)

// Fetcher retrieves up to pages result pages of candidate items for a topic.
// Failures should be reported as *FetchError where a status code is known.
type Fetcher interface {
	Fetch(ctx context.Context, topic string, pages int) ([]RawItem, error)
}

// TopicStore persists the topic registry.
type TopicStore interface {
	// UpsertTopic creates name as active, or reactivates it keeping its
	// original creation time. now is used only on creation.
	UpsertTopic(ctx context.Context, name string, now time.Time) (Topic, error)
	// DeactivateTopic marks name inactive. Unknown names are not an error.
	DeactivateTopic(ctx context.Context, name string) error
	// ListTopics returns topics newest first.
	ListTopics(ctx context.Context, activeOnly bool) ([]Topic, error)
}

// ItemStore persists items and visit logs.
type ItemStore interface {
	// InsertIfAbsent stores raw under topic unless (topic, url) already
	// exists. The boolean reports whether a row was created.
	InsertIfAbsent(ctx context.Context, topic string, raw RawItem) (Item, bool, error)
	// QueryItems pages through a topic's items ordered by ScrapedAt then ID,
	// newest first, and reports the total count for the topic.
	QueryItems(ctx context.Context, topic string, limit, offset int) ([]Item, int, error)
	AppendVisitLog(ctx context.Context, entry VisitLog) (VisitLog, error)
	// ListVisitLogs returns the most recent visit logs, newest first.
	ListVisitLogs(ctx context.Context, limit int) ([]VisitLog, error)
}

// Store is the full persistence surface.
type Store interface {
	TopicStore
	ItemStore
	Close() error
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
