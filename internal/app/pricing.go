package app

import (
	"math"

	"paidquiz-service/internal/domain"
)

// Payable computes the amount due for a base price after a percentage
// discount, floored at zero.
func Payable(price, discountPercent float64) (float64, error) {
	if price < 0 || discountPercent < 0 || discountPercent > 100 {
		return 0, domain.ErrInvalidPricing
	}
	payable := price * (1 - discountPercent/100)
	if payable < 0 {
		payable = 0
	}
	return payable, nil
}

// MinorUnits converts a rupee amount to rounded paise for the gateway.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
