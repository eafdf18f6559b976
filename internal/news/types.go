// Package news defines the core types shared by the scraper, the stores and the API.
package news

import "time"

// Topic is a normalized search keyword tracked by the scheduler.
type Topic struct {
	Name      string    `json:"name"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// RawItem is one search result as returned by a Fetcher, before persistence.
type RawItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Source  string `json:"source,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Item is a stored news entry. Items are unique per (Topic, URL).
type Item struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Source    string    `json:"source,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// VisitLog records the outcome of one fetch attempt for a topic.
type VisitLog struct {
	ID           int64     `json:"id"`
	Topic        string    `json:"topic"`
	AttemptedAt  time.Time `json:"attempted_at"`
	Success      bool      `json:"success"`
	StatusCode   *int      `json:"status_code,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// Prepare trims the candidate fields, drops any URL fragment and fills
// Domain from URL when the fetcher left it empty.
func (r RawItem) Prepare() RawItem {
	out := RawItem{
		Title:   collapse(r.Title),
		URL:     trimSpace(stripFragment(r.URL)),
		Source:  collapse(r.Source),
		Domain:  trimSpace(r.Domain),
		Snippet: collapse(r.Snippet),
	}
	if out.Domain == "" {
		out.Domain = DomainOf(out.URL)
	}
	return out
}

// NewItem builds the stored form of a candidate.
func NewItem(topic string, raw RawItem, id int64, scrapedAt time.Time) Item {
	return Item{
		ID:        id,
		Topic:     topic,
		Title:     raw.Title,
		URL:       raw.URL,
		Source:    raw.Source,
		Domain:    raw.Domain,
		Snippet:   raw.Snippet,
		ScrapedAt: scrapedAt,
	}
}
