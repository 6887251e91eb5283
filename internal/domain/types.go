package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// CartLine is a single line of a checkout request. Lines are submitted per
// request and never persisted on their own; the order keeps a snapshot.
type CartLine struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	Category  string
	Size      string
}

// CatalogProduct is the read-only catalog view the checkout flow validates
// submitted lines against.
type CatalogProduct struct {
	ID        string
	Name      string
	Category  string
	UnitPrice int64
	Active    bool
	Sizes     []string
	UpdatedAt time.Time
}

// DiscountType enumerates supported coupon discount kinds. The set is closed;
// unknown values are rejected at creation and at validation.
type DiscountType string

const (
	// DiscountTypePercentage discounts a percentage of the applicable base.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixed discounts a fixed amount, clamped to the applicable base.
	DiscountTypeFixed DiscountType = "fixed"
)

// CouponScopeAll marks a coupon as applicable to every line in the cart.
const CouponScopeAll = "All"

// Coupon is an admin-managed discount code. Codes are unique
// case-insensitively and stored upper-cased; coupons are multi-use and carry
// no redemption count.
type Coupon struct {
	Code         string
	DiscountType DiscountType
	Value        int64
	Scope        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// AppliedCoupon is the validator's success result: the coupon terms echoed
// verbatim for the pricing step. It is a snapshot, not a claim on usage.
type AppliedCoupon struct {
	Code         string
	DiscountType DiscountType
	Value        int64
	Scope        string
}

// CouponFilter narrows admin coupon listings.
type CouponFilter struct {
	Scope          string
	IncludeExpired bool
	Pagination     Pagination
}

// WalletAccount is the per-customer store-credit balance. The balance never
// goes negative; every mutation happens in a transaction against this
// document and appends a WalletEntry.
type WalletAccount struct {
	OwnerID   string
	Balance   int64
	UpdatedAt time.Time
}

// WalletEntryType distinguishes credits from debits on the ledger.
type WalletEntryType string

const (
	// WalletEntryCredit increases the balance (refund, gift card, adjustment).
	WalletEntryCredit WalletEntryType = "credit"
	// WalletEntryDebit decreases the balance (spent at checkout).
	WalletEntryDebit WalletEntryType = "debit"
)

// WalletEntry is one immutable row of the wallet statement.
type WalletEntry struct {
	ID          string
	OwnerID     string
	Type        WalletEntryType
	Amount      int64
	Reason      string
	OrderRef    *string
	GiftCardRef *string
	Balance     int64
	CreatedAt   time.Time
}

// GiftCard is a prepaid code redeemable exactly once into a wallet.
type GiftCard struct {
	Code       string
	FaceValue  int64
	Redeemed   bool
	RedeemedBy *string
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed and awaiting fulfilment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// RefundStatus tracks the card-paid refund of a cancelled order. The wallet
// portion is returned instantly at cancellation and is not tracked here.
type RefundStatus string

const (
	// RefundStatusNone applies to orders that were never cancelled.
	RefundStatusNone RefundStatus = "none"
	// RefundStatusPending indicates a refund is owed on the external rail.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusCompleted indicates the external refund was confirmed.
	RefundStatusCompleted RefundStatus = "completed"
	// RefundStatusFailed indicates the external refund attempt failed.
	RefundStatusFailed RefundStatus = "failed"
)

// Order is the persisted record of a committed checkout. Orders are never
// deleted; cancellation is a status, not a removal.
type Order struct {
	ID              string
	OrderNumber     string
	OwnerID         string
	Status          OrderStatus
	RefundStatus    RefundStatus
	Currency        string
	Pricing         PriceBreakdown
	CouponCode      *string
	Items           []OrderLineItem
	ShippingAddress Address
	PaymentRef      *string
	CancelReason    *string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessingAt    *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// OrderLineItem mirrors a cart line at the moment of checkout, with the
// catalog-verified unit price frozen in.
type OrderLineItem struct {
	ProductID string
	Name      string
	Category  string
	Size      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// Address stores the shipping destination snapshot for an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// TrackingView is the public, unauthenticated projection of an order. It
// carries no payment references and no wallet figures.
type TrackingView struct {
	OrderID        string
	OrderNumber    string
	Status         OrderStatus
	Items          []TrackingItem
	ShippingCity   string
	ShippingState  *string
	Country        string
	Total          int64
	TotalFormatted string
	PlacedAt       time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// TrackingItem is the public projection of an order line.
type TrackingItem struct {
	Name     string
	Quantity int
	Size     string
}

// OrderEventType enumerates events published to the notifier topic.
type OrderEventType string

const (
	// OrderEventCreated is published after an order commits.
	OrderEventCreated OrderEventType = "order.created"
	// OrderEventStatusChanged is published on fulfilment transitions.
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	// OrderEventCancelled is published when an order is cancelled.
	OrderEventCancelled OrderEventType = "order.cancelled"
	// OrderEventRefundCompleted is published when an external refund settles.
	OrderEventRefundCompleted OrderEventType = "order.refund.completed"
	// OrderEventRefundFailed is published when an external refund fails.
	OrderEventRefundFailed OrderEventType = "order.refund.failed"
)

// OrderEvent is the notifier payload. Delivery is best effort; order
// processing never blocks on it.
type OrderEvent struct {
	Type        OrderEventType
	OrderID     string
	OrderNumber string
	OwnerID     string
	Status      OrderStatus
	Amount      int64
	AmountText  string
	OccurredAt  time.Time
	Attributes  map[string]string
}
