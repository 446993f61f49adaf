package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewCouponCode generates a shareable coupon code like CPN-4F9A01BC.
func NewCouponCode() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "CPN-" + strings.ToUpper(hex[:8])
}
