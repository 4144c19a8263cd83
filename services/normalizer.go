package services

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"price-aggregator/metrics"
	"price-aggregator/models"
	"price-aggregator/utils"
)

// ratingRegexp captures a numeric rating in the 0.0–5.0 range.
var ratingRegexp = regexp.MustCompile(`\b([0-5](?:\.\d{1,2})?)\b`)

// Normalizer turns RawRecords into canonical Listings. Field-level parse
// failures resolve to null or zero and are never returned as errors.
type Normalizer struct {
	logger     *utils.Logger
	metrics    *metrics.Metrics
	currencies map[string]string
}

// NewNormalizer creates a Normalizer. currencies maps a country code to its
// currency and is used when a record does not name one.
func NewNormalizer(logger *utils.Logger, m *metrics.Metrics, currencies map[string]string) *Normalizer {
	if currencies == nil {
		currencies = map[string]string{}
	}
	return &Normalizer{logger: logger, metrics: m, currencies: currencies}
}

// NormalizeAll converts every record in order.
func (n *Normalizer) NormalizeAll(records []models.RawRecord, country string) []*models.Listing {
	out := make([]*models.Listing, 0, len(records))
	for _, r := range records {
		out = append(out, n.Normalize(r, country))
	}
	return out
}

// Normalize converts one record. runCountry is the country of the
// aggregation run and applies when the record carries no country_code.
func (n *Normalizer) Normalize(r models.RawRecord, runCountry string) *models.Listing {
	country, ok := r.String(models.KeyCountryCode)
	if !ok {
		country = runCountry
	}
	country = strings.ToUpper(country)

	rawURL, _ := r.String(models.KeyURL)
	title, _ := r.String(models.KeyTitle)
	source, _ := r.String(models.KeySource)

	l := &models.Listing{
		Title:  normaliseText(title),
		URL:    NormalizeURL(rawURL),
		Source: strings.ToLower(source),
	}

	if img, ok := r.String(models.KeyImageURL); ok {
		img = firstSrcsetURL(img)
		l.ImageURL = &img
	}

	l.PriceNumeric = n.resolvePrice(r, country)
	if display, ok := r.String(models.KeyPriceDisplay); ok {
		l.PriceDisplay = &display
	} else if display, ok := r.String(models.KeyPrice); ok {
		l.PriceDisplay = &display
	}

	l.PriceBeforeNumeric = resolveAmount(r, country, models.KeyPriceBeforeNumeric, models.KeyPriceBefore)

	if cur, ok := r.String(models.KeyCurrencyCode); ok {
		cur = strings.ToUpper(cur)
		l.Currency = &cur
	} else if cur, ok := n.currencies[country]; ok {
		l.Currency = &cur
	}

	l.Rating = resolveRating(r)
	l.ReviewsCount = n.resolveReviews(r, l.URL)
	l.OnSale, l.DiscountPercent = ResolveDiscount(l.PriceNumeric, l.PriceBeforeNumeric, r.TriState(models.KeyIsDiscounted))

	return l
}

func (n *Normalizer) resolvePrice(r models.RawRecord, country string) *float64 {
	if p := resolveAmount(r, country, models.KeyPriceNumeric, models.KeyPrice); p != nil {
		return p
	}
	if display, ok := r.String(models.KeyPriceDisplay); ok {
		if v, ok := ParseMoney(display, country); ok {
			return &v
		}
	}
	return nil
}

// resolveAmount prefers an already-numeric value under numericKey, then a
// numeric value under rawKey, then parses rawKey as money text.
func resolveAmount(r models.RawRecord, country, numericKey, rawKey string) *float64 {
	if v := r.Float(numericKey); v != nil && *v >= 0 && !math.IsNaN(*v) {
		return v
	}
	if v := r.Float(rawKey); v != nil && *v >= 0 && !math.IsNaN(*v) {
		return v
	}
	if raw, ok := r.String(rawKey); ok {
		if v, ok := ParseMoney(raw, country); ok {
			return &v
		}
	}
	return nil
}

func (n *Normalizer) resolveReviews(r models.RawRecord, listingURL string) int {
	var count int
	raw, hasRaw := r.String(models.KeyReviewsCountStr)
	if v := r.Float(models.KeyReviewsCount); v != nil && *v >= 0 {
		count = int(*v)
	} else if hasRaw {
		count = ParseCount(raw)
	}

	if count > SuspiciousCount {
		n.logger.Warn("[normalizer] Large review count %d parsed from %q (url=%s)", count, raw, listingURL)
		n.metrics.IncSuspiciousCount()
	}
	return count
}

// resolveRating extracts a 0.0–5.0 rating, accepting "4,5" as well as "4.5".
func resolveRating(r models.RawRecord) float64 {
	raw, ok := r.String(models.KeyRatingStr)
	if !ok {
		return 0
	}
	match := ratingRegexp.FindStringSubmatch(strings.ReplaceAll(raw, ",", "."))
	if len(match) < 2 {
		return 0
	}
	val, err := strconv.ParseFloat(match[1], 64)
	if err != nil || val < 0 || val > 5 {
		return 0
	}
	return val
}

// NormalizeURL strips the query string and fragment. The result is the
// deduplication key of a Listing.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// firstSrcsetURL reduces a srcset value ("a.jpg 1x, b.jpg 2x") to its first URL.
func firstSrcsetURL(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return strings.TrimSuffix(fields[0], ",")
	}
	return s
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
