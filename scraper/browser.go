package scraper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"price-aggregator/utils"
)

// BrowserFetcher renders pages in one shared headless Chrome. Every fetch
// opens its own tab; the browser is launched on first use.
type BrowserFetcher struct {
	chromeBin   string
	pageTimeout time.Duration
	settle      time.Duration
	logger      *utils.Logger

	once      sync.Once
	browser   context.Context
	cancelAll func()
	startErr  error
}

// NewBrowserFetcher creates a fetcher. chromeBin may be empty to search the
// usual install locations.
func NewBrowserFetcher(chromeBin string, pageTimeout time.Duration, logger *utils.Logger) *BrowserFetcher {
	if pageTimeout <= 0 {
		pageTimeout = 60 * time.Second
	}
	return &BrowserFetcher{
		chromeBin:   chromeBin,
		pageTimeout: pageTimeout,
		settle:      2 * time.Second,
		logger:      logger,
	}
}

func (f *BrowserFetcher) start() {
	chromeBin := findChromeBinary(f.chromeBin)
	f.logger.Info("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(defaultUserAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	f.browser = browserCtx
	f.cancelAll = func() {
		cancelBrowser()
		cancelAlloc()
	}

	// Running the browser context with no actions launches Chrome; tabs
	// created from it afterwards share that process.
	if err := chromedp.Run(browserCtx); err != nil {
		f.startErr = fmt.Errorf("start browser: %w", err)
		f.logger.Error("[browser] %v", f.startErr)
		f.cancelAll()
	}
}

// Fetch navigates a new tab to req.URL, waits for req.WaitFor when set,
// scrolls once to trigger lazy loading and returns the rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, req PageRequest) (string, error) {
	f.once.Do(f.start)
	if f.startErr != nil {
		return "", f.startErr
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browser)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.pageTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	actions := []chromedp.Action{network.Enable()}
	if req.AcceptLanguage != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": req.AcceptLanguage,
		}))
	}
	actions = append(actions, chromedp.Navigate(req.URL))
	if req.WaitFor != "" {
		actions = append(actions, chromedp.WaitReady(req.WaitFor, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.Sleep(f.settle))
	}

	var html string
	actions = append(actions,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("render %s: %w", req.URL, ctx.Err())
		}
		return "", fmt.Errorf("render %s: %w", req.URL, err)
	}
	return html, nil
}

// Close shuts the browser down if it was started.
func (f *BrowserFetcher) Close() {
	if f.cancelAll != nil {
		f.cancelAll()
	}
}

// findChromeBinary locates Chrome/Chromium, preferring an explicit path.
func findChromeBinary(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
