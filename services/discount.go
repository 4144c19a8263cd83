package services

import (
	"math"

	"price-aggregator/models"
)

// discountTolerance is the fraction above the current price the previous
// price must exceed before a sale is inferred. Smaller gaps are rounding noise.
const discountTolerance = 0.01

// ResolveDiscount decides on-sale status and discount percent.
// An explicit hint from the store wins: True marks the item on sale,
// False clears it whatever the numbers say. Only an Unknown hint falls
// back to comparing the two prices.
func ResolveDiscount(price, before *float64, hint models.TriState) (bool, *float64) {
	switch hint {
	case models.True:
		return true, discountPercent(price, before)
	case models.False:
		return false, nil
	}

	if price == nil || before == nil || *before <= 0 {
		return false, nil
	}
	if *before > *price*(1+discountTolerance) {
		return true, discountPercent(price, before)
	}
	return false, nil
}

func discountPercent(price, before *float64) *float64 {
	if price == nil || before == nil || *before <= 0 {
		return nil
	}
	pct := round2((*before - *price) / *before * 100)
	return &pct
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
