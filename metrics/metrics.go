// Package metrics exposes Prometheus instrumentation for searches,
// scrape jobs, and the normalization pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "price_aggregator"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing,
// which keeps tests and optional wiring free of nil checks.
type Metrics struct {
	SearchesTotal         *prometheus.CounterVec
	ScrapeJobsTotal       *prometheus.CounterVec
	ListingsDroppedTotal  *prometheus.CounterVec
	SuspiciousCountsTotal prometheus.Counter
	AggregationListings   prometheus.Histogram
	HTTPRequestsTotal     *prometheus.CounterVec
}

// New creates and registers the collectors on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SearchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Aggregation runs by final status",
		}, []string{"status"}),
		ScrapeJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_jobs_total",
			Help:      "Finished scrape jobs by store and result",
		}, []string{"store", "result"}),
		ListingsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_dropped_total",
			Help:      "Listings excluded from results by reason",
		}, []string{"reason"}),
		SuspiciousCountsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_review_counts_total",
			Help:      "Parsed review counts above one million",
		}),
		AggregationListings: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_listings",
			Help:      "Listings returned per successful aggregation",
			Buckets:   []float64{0, 5, 10, 25, 50, 100, 250, 500},
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
	}
}

func (m *Metrics) IncSearch(status string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncScrapeJob(store, result string) {
	if m == nil {
		return
	}
	m.ScrapeJobsTotal.WithLabelValues(store, result).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.ListingsDroppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSuspiciousCount() {
	if m == nil {
		return
	}
	m.SuspiciousCountsTotal.Inc()
}

func (m *Metrics) ObserveListings(n int) {
	if m == nil {
		return
	}
	m.AggregationListings.Observe(float64(n))
}

func (m *Metrics) IncHTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
