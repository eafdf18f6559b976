// Package rss implements news.Fetcher over a search feed, a lighter
// alternative to scraping result pages.
package rss

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/fetcher"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// DefaultFeedURL searches the news feed for the past hour.
const DefaultFeedURL = "https://news.google.com/rss/search?q={query}+when:1h&hl=en-US&gl=US&ceid=US:en"

const maxSnippet = 500

// Config controls the feed fetcher.
type Config struct {
	FeedURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher reads one feed document per visit.
type Fetcher struct {
	cfg    Config
	parser *gofeed.Parser
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.FeedURL == "" {
		cfg.FeedURL = DefaultFeedURL
	}
	if _, err := fetcher.SearchURL(cfg.FeedURL, "probe", 0); err != nil {
		return nil, fmt.Errorf("invalid feed url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = fetcher.DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fp := gofeed.NewParser()
	fp.Client = &http.Client{Timeout: cfg.Timeout}
	fp.UserAgent = cfg.UserAgent
	return &Fetcher{cfg: cfg, parser: fp, logger: logger}, nil
}

// Fetch returns at most pages*ResultsPerPage entries from the topic's feed.
func (f *Fetcher) Fetch(ctx context.Context, topic string, pages int) ([]news.RawItem, error) {
	target, err := fetcher.SearchURL(f.cfg.FeedURL, topic, 0)
	if err != nil {
		return nil, &news.FetchError{Message: "build feed url", Err: err}
	}
	feed, err := f.parser.ParseURLWithContext(target, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &news.FetchError{StatusCode: httpErr.StatusCode, Message: httpErr.Status, Err: err}
		}
		return nil, &news.FetchError{Message: err.Error(), Err: err}
	}

	limit := max(pages, 1) * fetcher.ResultsPerPage
	items := make([]news.RawItem, 0, min(limit, len(feed.Items)))
	for _, entry := range feed.Items {
		if len(items) == limit {
			break
		}
		if item, ok := toRawItem(entry); ok {
			items = append(items, item)
		}
	}
	f.logger.Debug("feed parsed",
		zap.String("topic", topic),
		zap.Int("entries", len(feed.Items)),
		zap.Int("items", len(items)),
	)
	return items, nil
}

func toRawItem(entry *gofeed.Item) (news.RawItem, bool) {
	link := entry.Link
	if link == "" && len(entry.Links) > 0 {
		link = entry.Links[0]
	}
	if link == "" {
		return news.RawItem{}, false
	}
	title, source := splitSource(entry.Title)
	if entry.Author != nil && source == "" {
		source = entry.Author.Name
	}
	return news.RawItem{
		Title:   title,
		URL:     link,
		Source:  source,
		Snippet: snippet(cmp.Or(entry.Description, entry.Content)),
	}, true
}

// splitSource separates the trailing " - Publisher" suffix news feeds append
// to headlines.
func splitSource(title string) (string, string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}

func snippet(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if r := []rune(text); len(r) > maxSnippet {
		text = string(r[:maxSnippet])
	}
	return text
}
