package news

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxTopicLength bounds a normalized topic name, counted in runes.
const MaxTopicLength = 100

// NormalizeTopic trims, collapses internal whitespace and lowercases raw.
// It is idempotent.
func NormalizeTopic(raw string) string {
	return strings.ToLower(collapse(raw))
}

// ValidateTopic normalizes raw and rejects empty or oversized names.
func ValidateTopic(raw string) (string, error) {
	name := NormalizeTopic(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidTopic)
	}
	if n := utf8.RuneCountInString(name); n > MaxTopicLength {
		return "", fmt.Errorf("%w: name has %d characters, limit is %d", ErrInvalidTopic, n, MaxTopicLength)
	}
	return name, nil
}

// DomainOf returns the lowercase host of rawURL without a leading "www.".
// Unparseable URLs yield an empty string.
func DomainOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}

// stripFragment drops everything from the first '#'. Fragments never reach
// the server, so they must not make two links to one page distinct.
func stripFragment(rawURL string) string {
	before, _, _ := strings.Cut(rawURL, "#")
	return before
}
