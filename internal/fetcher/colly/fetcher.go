// Package collyfetcher implements news.Fetcher by downloading search result
// pages with gocolly and extracting cards with htmlparse.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/fetcher"
	"github.com/JakeFAU/topicstreams/internal/fetcher/htmlparse"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	SearchURL     string
	RespectRobots bool
	Timeout       time.Duration
	Selectors     htmlparse.Selectors
	Headers       http.Header
}

// Fetcher implements news.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is what one collector run observed.
type page struct {
	status int
	body   []byte
	url    *url.URL
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if _, err := fetcher.SearchURL(cfg.SearchURL, "probe", 0); err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = fetcher.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.Selectors = cfg.Selectors.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Fetch downloads up to pages result pages for topic, stopping early at the
// first page without results.
func (f *Fetcher) Fetch(ctx context.Context, topic string, pages int) ([]news.RawItem, error) {
	var items []news.RawItem
	seen := make(map[string]struct{})
	for n := range max(pages, 1) {
		target, err := fetcher.SearchURL(f.cfg.SearchURL, topic, n)
		if err != nil {
			return nil, &news.FetchError{Message: "build search url", Err: err}
		}
		result, err := f.fetchPage(ctx, target)
		if err != nil {
			return nil, err
		}
		found, err := htmlparse.Parse(result.body, result.url, f.cfg.Selectors)
		if err != nil {
			return nil, &news.FetchError{StatusCode: result.status, Message: "parse results", Err: err}
		}
		f.logger.Debug("results page parsed",
			zap.String("topic", topic),
			zap.Int("page", n+1),
			zap.Int("items", len(found)),
		)
		if len(found) == 0 {
			break
		}
		for _, item := range found {
			if _, dup := seen[item.URL]; dup {
				continue
			}
			seen[item.URL] = struct{}{}
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, target string) (page, error) {
	var (
		result   page
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		if ctx.Err() != nil {
			return page{}, &news.FetchError{Message: "fetch canceled", Err: err}
		}
		var fe *news.FetchError
		if errors.As(err, &fe) {
			return page{}, err
		}
		return page{}, &news.FetchError{StatusCode: result.status, Message: err.Error(), Err: err}
	}
	if result.url == nil {
		result.url, _ = url.Parse(target)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(result *page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
			url:    r.Request.URL,
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		result.status = status
		*fetchErr = &news.FetchError{StatusCode: status, Message: http.StatusText(status), Err: err}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
