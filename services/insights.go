package services

import (
	"price-aggregator/models"
	"price-aggregator/utils"
)

// InsightService computes summary figures over a ranked result set.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes listings. Listings without a price are counted in
// the totals but ignored for price statistics.
func (s *InsightService) Generate(listings []*models.Listing) *models.Summary {
	summary := &models.Summary{BySource: make(map[string]int)}
	if len(listings) == 0 {
		return summary
	}

	summary.Total = len(listings)

	var priced int
	var total float64
	for _, l := range listings {
		if l.Source != "" {
			summary.BySource[l.Source]++
		}
		if l.OnSale {
			summary.OnSale++
		}
		if l.PriceNumeric == nil {
			continue
		}

		p := *l.PriceNumeric
		if priced == 0 || p < summary.MinPrice {
			summary.MinPrice = p
			summary.Cheapest = l
		}
		if priced == 0 || p > summary.MaxPrice {
			summary.MaxPrice = p
		}
		total += p
		priced++
	}

	if priced > 0 {
		summary.AveragePrice = round2(total / float64(priced))
		summary.MinPrice = round2(summary.MinPrice)
		summary.MaxPrice = round2(summary.MaxPrice)
	}

	s.logger.Debug("[insights] %d listings, %d priced, %d on sale", summary.Total, priced, summary.OnSale)
	return summary
}
