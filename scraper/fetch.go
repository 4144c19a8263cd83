package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PageRequest is one search page to download.
type PageRequest struct {
	URL            string
	AcceptLanguage string
	// WaitFor is a CSS selector a rendering fetcher waits for before
	// reading the page. Static fetchers ignore it.
	WaitFor string
}

// Fetcher downloads the HTML of a search page.
type Fetcher interface {
	Fetch(ctx context.Context, req PageRequest) (string, error)
}

// StaticFetcher downloads server-rendered pages with a colly collector.
type StaticFetcher struct {
	userAgent string
	timeout   time.Duration
}

// NewStaticFetcher returns a fetcher whose requests time out after timeout.
// A zero timeout keeps colly's default.
func NewStaticFetcher(timeout time.Duration) *StaticFetcher {
	return &StaticFetcher{userAgent: defaultUserAgent, timeout: timeout}
}

// Fetch downloads req.URL. Non-2xx responses are errors.
func (f *StaticFetcher) Fetch(ctx context.Context, req PageRequest) (string, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
	)
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		if req.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", req.AcceptLanguage)
		}
	})

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := c.Visit(req.URL); err != nil {
		return "", fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	if body == nil {
		return "", fmt.Errorf("fetch %s: empty response", req.URL)
	}
	return string(body), nil
}
