package services

import (
	"context"
	"time"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	CartLine           = domain.CartLine
	CatalogProduct     = domain.CatalogProduct
	Coupon             = domain.Coupon
	AppliedCoupon      = domain.AppliedCoupon
	CouponFilter       = domain.CouponFilter
	DiscountType       = domain.DiscountType
	WalletAccount      = domain.WalletAccount
	WalletEntry        = domain.WalletEntry
	GiftCard           = domain.GiftCard
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderLineItem      = domain.OrderLineItem
	RefundStatus       = domain.RefundStatus
	PriceBreakdown     = domain.PriceBreakdown
	Address            = domain.Address
	TrackingView       = domain.TrackingView
	TrackingItem       = domain.TrackingItem
	OrderEvent         = domain.OrderEvent
	SystemHealthReport = domain.SystemHealthReport
)

// CouponService validates codes against carts and owns admin coupon management.
type CouponService interface {
	// Validate checks the code against the submitted lines without computing
	// a discount and without recording usage.
	Validate(ctx context.Context, code string, lines []CartLine) (AppliedCoupon, error)
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, cmd DeleteCouponCommand) error
	ListCoupons(ctx context.Context, filter CouponFilter) (domain.CursorPage[Coupon], error)
}

// WalletService exposes store-credit balances and the statement view. Balance
// mutations tied to orders happen inside the order repository's transactions;
// this service covers standalone reads and support adjustments.
type WalletService interface {
	GetBalance(ctx context.Context, ownerID string) (WalletAccount, error)
	ListEntries(ctx context.Context, ownerID string, pager Pagination) (domain.CursorPage[WalletEntry], error)
	Credit(ctx context.Context, cmd WalletAdjustCommand) (WalletEntry, error)
}

// GiftCardService issues and redeems prepaid codes.
type GiftCardService interface {
	Issue(ctx context.Context, cmd IssueGiftCardCommand) (GiftCard, error)
	Get(ctx context.Context, code string) (GiftCard, error)
	Redeem(ctx context.Context, cmd RedeemGiftCardCommand) (GiftCardRedemption, error)
}

// CheckoutService turns a priced cart into a committed order.
type CheckoutService interface {
	// Quote prices the submitted cart without side effects.
	Quote(ctx context.Context, cmd QuoteCommand) (PriceBreakdown, error)
	// PlaceOrder validates, prices, authorizes payment, and commits the order
	// with its wallet debit in one transaction.
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService owns the order lifecycle after checkout: fulfilment
// transitions, cancellation with refunds, and read flows.
type OrderService interface {
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AdvanceRefund(ctx context.Context, cmd AdvanceRefundCommand) (Order, error)
	// Track is the public, unauthenticated projection of an order.
	Track(ctx context.Context, orderID string) (TrackingView, error)
}

// SystemService reports process and dependency health for operators and probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
	Build() BuildInfo
}

// AuditLogService appends immutable records of admin actions.
type AuditLogService interface {
	Record(ctx context.Context, cmd AuditRecordCommand) error
	List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[repositories.AuditLogEntry], error)
}

// Command DTOs --------------------------------------------------------------

// CreateCouponCommand captures an admin request to add a coupon.
type CreateCouponCommand struct {
	Code         string
	DiscountType DiscountType
	Value        int64
	Scope        string
	ExpiresAt    time.Time
	ActorID      string
}

// DeleteCouponCommand captures an admin request to remove a coupon.
type DeleteCouponCommand struct {
	Code    string
	ActorID string
}

// WalletAdjustCommand credits a wallet outside the order flow (support tooling).
type WalletAdjustCommand struct {
	OwnerID string
	Amount  int64
	Reason  string
	ActorID string
}

// IssueGiftCardCommand captures an admin request to create a prepaid code.
type IssueGiftCardCommand struct {
	FaceValue int64
	ActorID   string
}

// RedeemGiftCardCommand redeems a code into the caller's wallet.
type RedeemGiftCardCommand struct {
	Code    string
	OwnerID string
}

// GiftCardRedemption reports the consumed card and the resulting balance.
type GiftCardRedemption struct {
	Card           GiftCard
	AmountCredited int64
	Balance        int64
}

// QuoteCommand prices a cart without committing anything.
type QuoteCommand struct {
	OwnerID    string
	Lines      []CartLine
	CouponCode *string
	UseWallet  bool
}

// PlaceOrderCommand captures one checkout submission.
type PlaceOrderCommand struct {
	OwnerID         string
	Lines           []CartLine
	ShippingAddress Address
	CouponCode      *string
	UseWallet       bool
	PaymentMethod   string
	Metadata        map[string]any
}

// GetOrderCommand reads one order, scoped to the owner unless the actor is an admin.
type GetOrderCommand struct {
	OrderID string
	ActorID string
	Admin   bool
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderStatusTransitionCommand moves an order along the fulfilment path.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}

// CancelOrderCommand cancels a pending or processing order. Reason is required.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
	ByOwner bool
}

// AdvanceRefundCommand records the outcome of the external card refund.
type AdvanceRefundCommand struct {
	OrderID string
	Outcome RefundStatus
	ActorID string
}

// AuditRecordCommand describes one audit trail entry to append.
type AuditRecordCommand struct {
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Detail    map[string]any
}

// BuildInfo describes the running binary for health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
