// Package static is an offline news.Fetcher that fabricates results, for
// local runs and demos without network access.
package static

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/topicstreams/internal/news"
)

// Config shapes the generated results.
type Config struct {
	// PerPage is the number of results per page. Defaults to 3.
	PerPage int
	// Fresh is how many results each visit adds ahead of the previous
	// window. Defaults to 1.
	Fresh int
}

// Fetcher returns a sliding window of synthetic results per topic, so every
// visit overlaps the last one and contributes Fresh new items.
type Fetcher struct {
	cfg    Config
	mu     sync.Mutex
	visits map[string]int
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 3
	}
	if cfg.Fresh < 0 {
		cfg.Fresh = 0
	} else if cfg.Fresh == 0 {
		cfg.Fresh = 1
	}
	return &Fetcher{cfg: cfg, visits: make(map[string]int)}
}

// Fetch implements news.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, topic string, pages int) ([]news.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, &news.FetchError{Message: "fetch canceled", Err: err}
	}
	f.mu.Lock()
	visit := f.visits[topic]
	f.visits[topic] = visit + 1
	f.mu.Unlock()

	slug := strings.ReplaceAll(topic, " ", "-")
	count := max(pages, 1) * f.cfg.PerPage
	start := visit * f.cfg.Fresh
	items := make([]news.RawItem, 0, count)
	// Newest first, like a real result page.
	for i := start + count - 1; i >= start; i-- {
		items = append(items, news.RawItem{
			Title:   fmt.Sprintf("%s update #%d", topic, i+1),
			URL:     fmt.Sprintf("https://news.example.invalid/%s/%d", slug, i+1),
			Source:  "Example Wire",
			Snippet: fmt.Sprintf("Synthetic coverage of %s, story %d.", topic, i+1),
		})
	}
	return items, nil
}
