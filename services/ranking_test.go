package services

import (
	"testing"

	"price-aggregator/models"
)

func TestSimilarityScore(t *testing.T) {
	tests := []struct {
		title string
		query string
		want  int
	}{
		{"Smart TV Samsung 50", "samsung tv", 100},
		{"Televisor SAMSUNG", "samsung 50 pulgadas", 33},
		{"Heladera No Frost", "tv", 0},
		{"tv", "tv tv", 100},
		{"CAFÉ molido", "café", 100},
		{"", "tv", 0},
		{"tv", "", 0},
		{"tv", "   ", 0},
	}

	for _, tt := range tests {
		if got := SimilarityScore(tt.title, tt.query); got != tt.want {
			t.Errorf("SimilarityScore(%q, %q) = %d; want %d", tt.title, tt.query, got, tt.want)
		}
	}
}

func TestSortListingsCompositeKey(t *testing.T) {
	a := &models.Listing{Title: "a", SimilarityScore: 80, ReviewsCount: 10, PriceNumeric: fp(50)}
	b := &models.Listing{Title: "b", SimilarityScore: 80, ReviewsCount: 20, PriceNumeric: fp(50)}
	c := &models.Listing{Title: "c", SimilarityScore: 90, ReviewsCount: 5, PriceNumeric: fp(99)}
	listings := []*models.Listing{a, b, c}

	SortListings(listings)

	want := []*models.Listing{c, b, a}
	for i := range want {
		if listings[i] != want[i] {
			t.Fatalf("position %d = %s; want %s", i, listings[i].Title, want[i].Title)
		}
	}
}

func TestSortListingsPriceAndStability(t *testing.T) {
	noPrice := &models.Listing{Title: "none"}
	cheap := &models.Listing{Title: "cheap", PriceNumeric: fp(10)}
	first := &models.Listing{Title: "first", PriceNumeric: fp(20)}
	second := &models.Listing{Title: "second", PriceNumeric: fp(20)}
	listings := []*models.Listing{noPrice, first, second, cheap}

	SortListings(listings)

	want := []string{"cheap", "first", "second", "none"}
	for i, title := range want {
		if listings[i].Title != title {
			t.Errorf("position %d = %s; want %s", i, listings[i].Title, title)
		}
	}
}

func TestRankScoresAgainstQuery(t *testing.T) {
	listings := []*models.Listing{
		{Title: "Funda para celular", PriceNumeric: fp(5)},
		{Title: "Celular Motorola G54", PriceNumeric: fp(300), ReviewsCount: 10},
		{Title: "Motorola G54 256GB", PriceNumeric: fp(280)},
	}

	Rank(listings, "motorola g54")

	if listings[0].SimilarityScore != 100 || listings[1].SimilarityScore != 100 {
		t.Fatalf("scores = %d, %d; want 100, 100", listings[0].SimilarityScore, listings[1].SimilarityScore)
	}
	if listings[0].Title != "Celular Motorola G54" {
		t.Errorf("review count should break the tie, got %s first", listings[0].Title)
	}
	if listings[2].SimilarityScore != 0 {
		t.Errorf("unrelated listing scored %d", listings[2].SimilarityScore)
	}
}
