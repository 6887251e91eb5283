package domain

// PriceBreakdown captures the monetary results of pricing a checkout, in the
// fixed evaluation order: subtotal, discount, shipping, tax, wallet, total.
// All fields are minor currency units and all are non-negative.
type PriceBreakdown struct {
	Currency      string
	Subtotal      int64
	Discount      int64
	Shipping      int64
	Tax           int64
	WalletApplied int64
	Total         int64
}

// RawTotal is the pre-wallet amount: subtotal - discount + shipping + tax.
func (b PriceBreakdown) RawTotal() int64 {
	return b.Subtotal - b.Discount + b.Shipping + b.Tax
}

// DiscountBase is the portion of the subtotal a coupon may discount. For an
// "All"-scoped coupon this equals the subtotal; for a category-scoped coupon
// it is the sum of matching lines only.
func DiscountBase(lines []CartLine, scope string) int64 {
	var base int64
	for _, line := range lines {
		if scope == CouponScopeAll || line.Category == scope {
			base += line.UnitPrice * int64(line.Quantity)
		}
	}
	return base
}
