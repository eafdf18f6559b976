// Package htmlparse extracts search-result candidates from rendered HTML.
package htmlparse

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/topicstreams/internal/news"
)

// Selectors locate the parts of one result card. Title, Source and Snippet
// are matched inside the Item selection; Link may match the item itself.
type Selectors struct {
	Item    string `mapstructure:"item"`
	Title   string `mapstructure:"title"`
	Link    string `mapstructure:"link"`
	Source  string `mapstructure:"source"`
	Snippet string `mapstructure:"snippet"`
}

// DefaultSelectors match the news vertical's result cards.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:    "div.SoaBEf",
		Title:   "div[role='heading']",
		Link:    "a[href]",
		Source:  ".MgUUmf span, .NUnG9d span",
		Snippet: ".GI74Re",
	}
}

// WithDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if s.Item == "" {
		s.Item = d.Item
	}
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Link == "" {
		s.Link = d.Link
	}
	if s.Source == "" {
		s.Source = d.Source
	}
	if s.Snippet == "" {
		s.Snippet = d.Snippet
	}
	return s
}

// Parse reads body as HTML and returns one candidate per result card with a
// usable link, in document order. Relative links resolve against base.
func Parse(body []byte, base *url.URL, sel Selectors) ([]news.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return Extract(doc.Selection, base, sel), nil
}

// Extract walks an already parsed document.
func Extract(root *goquery.Selection, base *url.URL, sel Selectors) []news.RawItem {
	sel = sel.WithDefaults()
	seen := make(map[string]struct{})
	var items []news.RawItem
	root.Find(sel.Item).Each(func(_ int, card *goquery.Selection) {
		link := card.Filter(sel.Link)
		if link.Length() == 0 {
			link = card.Find(sel.Link)
		}
		href, ok := link.First().Attr("href")
		if !ok {
			return
		}
		target := resolve(base, href)
		if target == "" {
			return
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}

		title := text(card.Find(sel.Title))
		if title == "" {
			title = text(link.First())
		}
		items = append(items, news.RawItem{
			Title:   title,
			URL:     target,
			Source:  text(card.Find(sel.Source)),
			Snippet: text(card.Find(sel.Snippet)),
		})
	})
	return items
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.First().Text()), " ")
}

// resolve returns an absolute http(s) URL for href, unwrapping redirect
// links of the form /url?q=<target>.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Path == "/url" {
		for _, key := range []string{"q", "url"} {
			if target := ref.Query().Get(key); target != "" {
				return resolve(nil, target)
			}
		}
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	if ref.Host == "" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
