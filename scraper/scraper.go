package scraper

import (
	"context"
	"fmt"
	"time"

	"price-aggregator/config"
	"price-aggregator/models"
	"price-aggregator/queue"
	"price-aggregator/utils"
)

// Scraper runs one store search: it walks the store's result pages, fetching
// each with the fetcher matching the store's render mode, and extracts the
// product cards. It implements queue.JobRunner.
type Scraper struct {
	catalog   *config.Catalog
	static    Fetcher
	browser   Fetcher
	pageDelay time.Duration
	logger    *utils.Logger
}

// Options configures a Scraper. Browser may be nil when no configured store
// needs rendering.
type Options struct {
	Static    Fetcher
	Browser   Fetcher
	PageDelay time.Duration
}

// New creates a Scraper over the stores in catalog.
func New(catalog *config.Catalog, opts Options, logger *utils.Logger) *Scraper {
	return &Scraper{
		catalog:   catalog,
		static:    opts.Static,
		browser:   opts.Browser,
		pageDelay: opts.PageDelay,
		logger:    logger,
	}
}

var _ queue.JobRunner = (*Scraper)(nil)

// Run searches item.Store for item.Query. A failure on the first page fails
// the job; a failure on a later page keeps what was already collected.
func (s *Scraper) Run(ctx context.Context, item queue.WorkItem) ([]models.RawRecord, error) {
	store, ok := s.catalog.Store(item.Store)
	if !ok {
		return nil, fmt.Errorf("unknown store %q", item.Store)
	}
	fetcher, err := s.fetcherFor(store)
	if err != nil {
		return nil, err
	}

	lang := s.catalog.AcceptLanguage(item.Country)
	currency := s.catalog.Currencies[item.Country]
	seen := utils.NewURLSet()
	records := make([]models.RawRecord, 0)

	for page := 1; ; page++ {
		pageURL, more, err := store.SearchPageURL(item.Query, item.Country, page)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}

		s.logger.Debug("[%s] Scraping page %d: %s", store.Name, page, pageURL)

		html, err := fetcher.Fetch(ctx, PageRequest{URL: pageURL, AcceptLanguage: lang, WaitFor: store.WaitFor})
		if err == nil {
			var cards []models.RawRecord
			cards, err = ExtractCards(html, Page{URL: pageURL, Store: store, Country: item.Country, Currency: currency})
			if err == nil {
				added := 0
				for _, c := range cards {
					if u, ok := c.String(models.KeyURL); ok && !seen.Add(u) {
						continue
					}
					records = append(records, c)
					added++
				}
				if added == 0 {
					s.logger.Warn("[%s] Page %d returned 0 new listings, stopping", store.Name, page)
					break
				}
				s.logger.Debug("[%s] Page %d done, %d listings so far", store.Name, page, len(records))
			}
		}
		if err != nil {
			if page == 1 {
				return nil, err
			}
			s.logger.Warn("[%s] Page %d failed, keeping %d listings: %v", store.Name, page, len(records), err)
			break
		}

		if s.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return records, nil
			case <-time.After(s.pageDelay):
			}
		}
	}

	s.logger.Info("[%s] Search %q in %s complete, %d raw listings, %d unique URLs", store.Name, item.Query, item.Country, len(records), seen.Size())
	return records, nil
}

func (s *Scraper) fetcherFor(store *config.Store) (Fetcher, error) {
	switch store.Render {
	case config.RenderBrowser:
		if s.browser == nil {
			return nil, fmt.Errorf("%s needs a browser but none is configured", store.Name)
		}
		return s.browser, nil
	default:
		if s.static == nil {
			return nil, fmt.Errorf("%s: no static fetcher configured", store.Name)
		}
		return s.static, nil
	}
}
