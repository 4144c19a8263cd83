package models

import "time"

// Listing is the canonical, normalized representation of one scraped product.
// Nullable fields are pointers and serialize as JSON null.
type Listing struct {
	Title              string   `json:"title"`
	URL                string   `json:"url"`
	ImageURL           *string  `json:"image_url"`
	Source             string   `json:"source"`
	PriceNumeric       *float64 `json:"price_numeric"`
	PriceDisplay       *string  `json:"price_display"`
	Currency           *string  `json:"currency"`
	PriceBeforeNumeric *float64 `json:"price_before_numeric"`
	Rating             float64  `json:"rating"`
	ReviewsCount       int      `json:"reviews_count"`
	OnSale             bool     `json:"on_sale"`
	DiscountPercent    *float64 `json:"discount_percent"`
	SimilarityScore    int      `json:"similarity_score"`
}

// Price returns the numeric price, or 0 when absent.
func (l *Listing) Price() float64 {
	if l.PriceNumeric == nil {
		return 0
	}
	return *l.PriceNumeric
}

// Summary holds aggregate figures over one finished result set.
type Summary struct {
	Total        int            `json:"total"`
	OnSale       int            `json:"on_sale"`
	AveragePrice float64        `json:"average_price"`
	MinPrice     float64        `json:"min_price"`
	MaxPrice     float64        `json:"max_price"`
	Cheapest     *Listing       `json:"cheapest,omitempty"`
	BySource     map[string]int `json:"by_source"`
}

// SearchResult is the memoized outcome of a finished aggregation run.
type SearchResult struct {
	Handle     string     `json:"handle"`
	Query      string     `json:"query"`
	Country    string     `json:"country"`
	Jobs       int        `json:"jobs"`
	Listings   []*Listing `json:"results"`
	Summary    *Summary   `json:"summary"`
	FinishedAt time.Time  `json:"finished_at"`
}
