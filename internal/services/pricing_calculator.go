package services

import (
	"strings"

	domain "github.com/threadline/api/internal/domain"
)

// PricingCalculator prices a checkout deterministically. It holds only
// configuration, never I/O; the same inputs always produce the same
// breakdown, which is what lets checkout re-run it server-side at commit.
type PricingCalculator struct {
	// ShippingFlatFee is charged on every order regardless of contents.
	ShippingFlatFee int64
	// TaxRateBasisPoints is the flat tax rate in basis points (800 = 8%).
	TaxRateBasisPoints int64
	Currency           string
}

// Quote computes the full breakdown in the fixed evaluation order:
// subtotal, discount, shipping, tax on the discounted subtotal, wallet,
// total. Every output field is non-negative.
func (c PricingCalculator) Quote(lines []CartLine, coupon *AppliedCoupon, useWallet bool, walletBalance int64) PriceBreakdown {
	breakdown := PriceBreakdown{Currency: c.Currency}

	for _, line := range lines {
		breakdown.Subtotal += line.UnitPrice * int64(line.Quantity)
	}

	breakdown.Discount = c.discount(lines, coupon)
	breakdown.Shipping = c.ShippingFlatFee
	breakdown.Tax = (breakdown.Subtotal - breakdown.Discount) * c.TaxRateBasisPoints / 10000

	rawTotal := breakdown.RawTotal()
	if useWallet && walletBalance > 0 {
		breakdown.WalletApplied = min(walletBalance, rawTotal)
	}

	breakdown.Total = max(0, rawTotal-breakdown.WalletApplied)
	return breakdown
}

// discount resolves the coupon against its applicable base. Category-scoped
// coupons discount matching lines only; fixed discounts clamp to the base so
// the discount can never exceed what it applies to.
func (c PricingCalculator) discount(lines []CartLine, coupon *AppliedCoupon) int64 {
	if coupon == nil {
		return 0
	}
	base := domain.DiscountBase(lines, strings.TrimSpace(coupon.Scope))
	if base <= 0 {
		return 0
	}
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		return base * coupon.Value / 100
	case domain.DiscountTypeFixed:
		return min(coupon.Value, base)
	default:
		return 0
	}
}
