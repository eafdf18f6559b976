package news

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTopic(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  Bitcoin  ":        "bitcoin",
		"China":              "china",
		"Climate   Change":   "climate change",
		"\tGlobal\nMarkets ": "global markets",
		"   ":                "",
		"":                   "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeTopic(in), "input %q", in)
	}
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	name, err := ValidateTopic("  Bitcoin ")
	require.NoError(t, err)
	require.Equal(t, "bitcoin", name)

	_, err = ValidateTopic("   ")
	require.ErrorIs(t, err, ErrInvalidTopic)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = ValidateTopic(strings.Repeat("a", MaxTopicLength))
	require.NoError(t, err)

	_, err = ValidateTopic(strings.Repeat("ä", MaxTopicLength+1))
	require.ErrorIs(t, err, ErrInvalidTopic)
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "coindesk.com", DomainOf("https://www.CoinDesk.com/markets/1"))
	require.Equal(t, "news.example.org", DomainOf("http://news.example.org:8080/a?b=c"))
	require.Empty(t, DomainOf("::not a url"))
	require.Empty(t, DomainOf(""))
}

func TestRawItemPrepare(t *testing.T) {
	t.Parallel()

	got := RawItem{
		Title: "  Bitcoin   hits  record ",
		URL:   " https://www.reuters.com/markets/btc ",
	}.Prepare()
	require.Equal(t, "Bitcoin hits record", got.Title)
	require.Equal(t, "https://www.reuters.com/markets/btc", got.URL)
	require.Equal(t, "reuters.com", got.Domain)

	kept := RawItem{URL: "https://a.example/x", Domain: "custom"}.Prepare()
	require.Equal(t, "custom", kept.Domain)
}

func TestRawItemPrepareDropsFragment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://a.example/story#comments", "https://a.example/story"},
		{" https://a.example/story?id=3#top ", "https://a.example/story?id=3"},
		{"https://a.example/story#", "https://a.example/story"},
		{"https://a.example/story", "https://a.example/story"},
		{"#only-fragment", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, RawItem{URL: tt.in}.Prepare().URL, tt.in)
	}

	a := RawItem{URL: "https://a.example/story#one"}.Prepare()
	b := RawItem{URL: "https://a.example/story#two"}.Prepare()
	require.Equal(t, a.URL, b.URL)
}

func TestFetchErrorMessages(t *testing.T) {
	t.Parallel()

	require.Equal(t, "fetch failed with status 429: rate limited", (&FetchError{StatusCode: 429, Message: "rate limited"}).Error())
	require.Equal(t, "fetch failed with status 503", (&FetchError{StatusCode: 503}).Error())
	require.Equal(t, "fetch failed: timeout", (&FetchError{Message: "timeout"}).Error())

	cause := errors.New("dial tcp: refused")
	wrapped := &FetchError{Err: cause}
	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, "fetch failed: dial tcp: refused", wrapped.Error())
}

func TestStorageError(t *testing.T) {
	t.Parallel()

	require.NoError(t, StorageError("insert item", nil))

	cause := errors.New("disk full")
	err := StorageError("insert item", cause)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "insert item: storage failure: disk full", err.Error())
}

func FuzzNormalizeTopic(f *testing.F) {
	for _, seed := range []string{"Bitcoin", "  China  ", "Climate\tChange", "İstanbul", "\xff\xfe"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		once := NormalizeTopic(raw)
		if twice := NormalizeTopic(once); twice != once {
			t.Errorf("NormalizeTopic not idempotent: %q -> %q -> %q", raw, once, twice)
		}
		if strings.TrimSpace(once) != once {
			t.Errorf("NormalizeTopic(%q) = %q has surrounding whitespace", raw, once)
		}
	})
}
