package services

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"price-aggregator/models"
)

// SimilarityScore is the percentage (0–100) of distinct query words that
// also appear among the title words, compared case-insensitively.
// It is 0 when either string is empty.
func SimilarityScore(title, query string) int {
	// Casers are stateful; one per call keeps this safe for concurrent runs.
	fold := cases.Fold()

	queryWords := wordSet(fold.String(query))
	if len(queryWords) == 0 {
		return 0
	}
	titleWords := wordSet(fold.String(title))
	if len(titleWords) == 0 {
		return 0
	}

	common := 0
	for w := range queryWords {
		if _, ok := titleWords[w]; ok {
			common++
		}
	}
	return common * 100 / len(queryWords)
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Rank scores every listing against query and sorts in place by
// similarity (desc), review count (desc), then price (asc). Ties keep
// their incoming order.
func Rank(listings []*models.Listing, query string) {
	for _, l := range listings {
		l.SimilarityScore = SimilarityScore(l.Title, query)
	}
	SortListings(listings)
}

// SortListings applies the ranking order without rescoring.
func SortListings(listings []*models.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		if a.ReviewsCount != b.ReviewsCount {
			return a.ReviewsCount > b.ReviewsCount
		}
		return sortPrice(a) < sortPrice(b)
	})
}

// sortPrice orders listings without a price last.
func sortPrice(l *models.Listing) float64 {
	if l.PriceNumeric == nil {
		return math.MaxFloat64
	}
	return *l.PriceNumeric
}
