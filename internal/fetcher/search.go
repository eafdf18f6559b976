// Package fetcher holds helpers shared by the search-result adapters in its
// subpackages.
package fetcher

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ResultsPerPage is the page size assumed when computing result offsets.
const ResultsPerPage = 10

// DefaultSearchURL queries the news vertical for the past hour, newest first.
const DefaultSearchURL = "https://www.google.com/search?q={query}&tbm=nws&tbs=qdr:h,sbd:1&hl=en&start={start}"

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// SearchURL expands a template for topic and zero-based page. {query} is
// replaced by the escaped topic and {start} by the offset of the page's first
// result.
func SearchURL(template, topic string, page int) (string, error) {
	if template == "" {
		template = DefaultSearchURL
	}
	if !strings.Contains(template, "{query}") {
		return "", errors.New("search url template must contain {query}")
	}
	expanded := strings.NewReplacer(
		"{query}", url.QueryEscape(topic),
		"{start}", strconv.Itoa(max(page, 0)*ResultsPerPage),
		"{page}", strconv.Itoa(max(page, 0)+1),
	).Replace(template)
	if _, err := url.Parse(expanded); err != nil {
		return "", err
	}
	return expanded, nil
}
