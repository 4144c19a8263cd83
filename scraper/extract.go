package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"price-aggregator/config"
	"price-aggregator/models"
	"price-aggregator/services"
)

// previousPriceTolerance is how far above the current price a second amount
// on the card must be before it is read as the pre-discount price.
const previousPriceTolerance = 1.01

var (
	whitespaceRegexp = regexp.MustCompile(`\s+`)

	// cardMoneyRegexp finds amounts written next to a currency marker in
	// free card text, e.g. "$12.999", "R$ 1.299,90", "US$ 25.00".
	cardMoneyRegexp = regexp.MustCompile(`(?:US\$|R\$|[$€£]|\b(?:ARS|USD|EUR|MXN|BRL|COP|CLP|CAD|GBP)\b)\s?\d[\d.,]*`)

	attrNameRegexp = regexp.MustCompile(`^[a-zA-Z_:][-a-zA-Z0-9_:.]*$`)
)

// Page is one fetched result page together with what is needed to read it.
type Page struct {
	URL      string
	Store    *config.Store
	Country  string
	Currency string
}

// ExtractCards reads every result card on a search page into raw records.
// Cards whose link matches one of the store's rejected patterns, and cards
// carrying neither a title nor a link, are skipped.
func ExtractCards(html string, page Page) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if page.Store == nil {
		return nil, fmt.Errorf("extract %s: no store definition", page.URL)
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", page.URL, err)
	}

	sel := page.Store.Selectors
	records := make([]models.RawRecord, 0)

	doc.Find(sel.Container).Each(func(_ int, card *goquery.Selection) {
		title := firstValue(card, sel.Title, nil)
		link := resolveURL(base, firstValue(card, sel.URL, isLink))
		if title == "" && link == "" {
			return
		}
		if rejected(link, page.Store.RejectURLPatterns) {
			return
		}

		rec := models.RawRecord{
			models.KeySource:      page.Store.Name,
			models.KeyCountryCode: page.Country,
		}
		if page.Currency != "" {
			rec[models.KeyCurrencyCode] = page.Currency
		}
		setIfPresent(rec, models.KeyTitle, title)
		setIfPresent(rec, models.KeyURL, link)
		setIfPresent(rec, models.KeyImageURL, resolveURL(base, firstValue(card, sel.Image, isImage)))
		setIfPresent(rec, models.KeyRatingStr, firstValue(card, sel.Rating, nil))
		setIfPresent(rec, models.KeyReviewsCountStr, firstValue(card, sel.Reviews, nil))

		readPrices(card, sel, page.Country, rec)

		if firstValue(card, sel.DiscountLabel, nil) != "" {
			rec[models.KeyIsDiscounted] = true
		}

		records = append(records, rec)
	})

	return records, nil
}

// readPrices fills the current and previous price of a card. Without a
// previous-price selector hit, the largest other amount on the card that
// sits clearly above the current price is taken as the previous price.
func readPrices(card *goquery.Selection, sel config.Selectors, country string, rec models.RawRecord) {
	price := firstValue(card, sel.Price, hasDigit)
	if price == "" {
		return
	}
	if symbol := firstValue(card, sel.PriceSymbol, nil); symbol != "" && !strings.Contains(price, symbol) {
		price = symbol + " " + price
	}
	rec[models.KeyPrice] = price

	current, ok := services.ParseMoney(price, country)
	if !ok {
		return
	}
	rec[models.KeyPriceNumeric] = current

	if before := firstValue(card, sel.PriceBefore, hasDigit); before != "" {
		rec[models.KeyPriceBefore] = before
		return
	}

	var best float64
	for _, m := range cardMoneyRegexp.FindAllString(normalizeText(card.Text()), -1) {
		v, ok := services.ParseMoney(m, country)
		if ok && v > current*previousPriceTolerance && v > best {
			best = v
		}
	}
	if best > 0 {
		rec[models.KeyPriceBeforeNumeric] = best
	}
}

// firstValue walks the fallback list and returns the first non-empty value
// that accept (when given) approves.
func firstValue(card *goquery.Selection, list config.SelectorList, accept func(string) bool) string {
	for _, entry := range list {
		css, attr := splitSelector(entry)
		var found *goquery.Selection
		if css == "" {
			found = card
		} else {
			found = card.Find(css)
		}

		var value string
		found.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if attr == "" {
				value = normalizeText(s.Text())
			} else if v, ok := s.Attr(attr); ok {
				value = strings.TrimSpace(v)
				if attr == "srcset" {
					value = firstSrcsetURL(value)
				}
			}
			if value != "" && (accept == nil || accept(value)) {
				return false
			}
			value = ""
			return true
		})
		if value != "" {
			return value
		}
	}
	return ""
}

// splitSelector separates "css@attr". An @ inside an attribute selector,
// e.g. a[href*="@"], is not a split point.
func splitSelector(entry string) (css, attr string) {
	i := strings.LastIndex(entry, "@")
	if i < 0 {
		return strings.TrimSpace(entry), ""
	}
	candidate := entry[i+1:]
	if !attrNameRegexp.MatchString(candidate) {
		return strings.TrimSpace(entry), ""
	}
	return strings.TrimSpace(entry[:i]), candidate
}

func firstSrcsetURL(srcset string) string {
	first := strings.TrimSpace(strings.Split(srcset, ",")[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func rejected(link string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(link, p) {
			return true
		}
	}
	return false
}

func setIfPresent(rec models.RawRecord, key, value string) {
	if value != "" {
		rec[key] = value
	}
}

func normalizeText(s string) string {
	return strings.TrimSpace(whitespaceRegexp.ReplaceAllString(s, " "))
}

func hasDigit(s string) bool { return strings.ContainsAny(s, "0123456789") }

func isLink(s string) bool {
	return !strings.HasPrefix(s, "#") && !strings.HasPrefix(strings.ToLower(s), "javascript:")
}

// isImage skips inline placeholders that lazy-loading pages put in src.
func isImage(s string) bool { return !strings.HasPrefix(s, "data:") }
