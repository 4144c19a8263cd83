package services

import (
	"price-aggregator/metrics"
	"price-aggregator/models"
	"price-aggregator/utils"
)

// Drop reasons reported to metrics.
const (
	DropMissingURL   = "missing_url"
	DropMissingPrice = "missing_price"
	DropDuplicateURL = "duplicate_url"
)

// Deduplicator keeps the first Listing seen for each normalized URL.
// Its seen set belongs to exactly one aggregation run: create a new
// Deduplicator per run and never share it between runs.
type Deduplicator struct {
	seen    *utils.URLSet
	logger  *utils.Logger
	metrics *metrics.Metrics
}

// NewDeduplicator creates a Deduplicator with an empty seen set.
func NewDeduplicator(logger *utils.Logger, m *metrics.Metrics) *Deduplicator {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Deduplicator{seen: utils.NewURLSet(), logger: logger, metrics: m}
}

// Dedupe returns the listings that have a URL and a price and whose URL
// was not seen earlier in this run, in first-seen order. Excluded
// listings are ad placeholders or repeats and are dropped silently.
func (d *Deduplicator) Dedupe(listings []*models.Listing) []*models.Listing {
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if l == nil || l.URL == "" {
			d.metrics.IncDropped(DropMissingURL)
			continue
		}
		if l.PriceNumeric == nil {
			d.logger.Debug("[dedup] Dropping listing without price: %s", l.URL)
			d.metrics.IncDropped(DropMissingPrice)
			continue
		}
		if !d.seen.Add(l.URL) {
			d.logger.Debug("[dedup] Duplicate URL skipped: %s", l.URL)
			d.metrics.IncDropped(DropDuplicateURL)
			continue
		}
		out = append(out, l)
	}
	return out
}

// Dedupe runs a fresh Deduplicator over listings.
func Dedupe(listings []*models.Listing) []*models.Listing {
	return NewDeduplicator(nil, nil).Dedupe(listings)
}
