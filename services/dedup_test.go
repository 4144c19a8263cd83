package services

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"price-aggregator/metrics"
	"price-aggregator/models"
	"price-aggregator/utils"
)

func listing(url string, price *float64) *models.Listing {
	return &models.Listing{URL: url, PriceNumeric: price, Title: url}
}

func TestDedupeKeepsFirstSeen(t *testing.T) {
	in := []*models.Listing{
		listing("http://x/1", fp(100)),
		listing("http://x/2", fp(50)),
		listing("http://x/1", fp(90)),
		listing("http://x/3", fp(10)),
	}

	out := Dedupe(in)

	if len(out) != 3 {
		t.Fatalf("len = %d; want 3", len(out))
	}
	if out[0].URL != "http://x/1" || *out[0].PriceNumeric != 100 {
		t.Errorf("first-seen listing not kept: %+v", out[0])
	}
	if out[1].URL != "http://x/2" || out[2].URL != "http://x/3" {
		t.Errorf("order not preserved: %s, %s", out[1].URL, out[2].URL)
	}
}

func TestDedupeDropsIncompleteListings(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDeduplicator(utils.NewNopLogger(), m)

	out := d.Dedupe([]*models.Listing{
		nil,
		listing("", fp(10)),
		listing("http://x/1", nil),
		listing("http://x/2", fp(20)),
		listing("http://x/2", fp(20)),
	})

	if len(out) != 1 || out[0].URL != "http://x/2" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if got := testutil.ToFloat64(m.ListingsDroppedTotal.WithLabelValues(DropMissingURL)); got != 2 {
		t.Errorf("missing_url drops = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.ListingsDroppedTotal.WithLabelValues(DropMissingPrice)); got != 1 {
		t.Errorf("missing_price drops = %v; want 1", got)
	}
	if got := testutil.ToFloat64(m.ListingsDroppedTotal.WithLabelValues(DropDuplicateURL)); got != 1 {
		t.Errorf("duplicate_url drops = %v; want 1", got)
	}
}

func TestDedupePricelessURLNotMarkedSeen(t *testing.T) {
	out := Dedupe([]*models.Listing{
		listing("http://x/1", nil),
		listing("http://x/1", fp(30)),
	})

	if len(out) != 1 || *out[0].PriceNumeric != 30 {
		t.Fatalf("priced listing should survive a priceless predecessor: %+v", out)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	in := []*models.Listing{
		listing("http://x/1", fp(1)),
		listing("http://x/1", fp(2)),
		listing("", fp(3)),
		listing("http://x/2", nil),
		listing("http://x/3", fp(4)),
	}

	once := Dedupe(in)
	twice := Dedupe(once)

	if len(once) != len(twice) {
		t.Fatalf("len once = %d, twice = %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("position %d differs", i)
		}
	}

	seen := make(map[string]bool)
	for _, l := range twice {
		if seen[l.URL] {
			t.Errorf("duplicate url in output: %s", l.URL)
		}
		seen[l.URL] = true
	}
}

func TestDeduplicatorsAreIsolated(t *testing.T) {
	a := NewDeduplicator(nil, nil)
	b := NewDeduplicator(nil, nil)
	batch := []*models.Listing{listing("http://x/1", fp(1))}

	if got := a.Dedupe(batch); len(got) != 1 {
		t.Fatalf("first run kept %d", len(got))
	}
	if got := b.Dedupe(batch); len(got) != 1 {
		t.Errorf("second deduplicator saw state from the first")
	}
	if got := a.Dedupe(batch); len(got) != 0 {
		t.Errorf("a deduplicator should remember urls within its own run")
	}
}
