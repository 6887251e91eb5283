package repositories

import (
	"context"
	"time"

	domain "github.com/threadline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Coupons() CouponRepository
	Wallets() WalletRepository
	GiftCards() GiftCardRepository
	Catalog() CatalogRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order documents. Orders are append-and-update only;
// there is no delete.
type OrderRepository interface {
	// CreateWithWalletDebit inserts the order and, when req.WalletDebit > 0,
	// debits the owner's wallet in the same transaction. Either both writes
	// commit or neither does.
	CreateWithWalletDebit(ctx context.Context, req OrderCreateRequest) (OrderCreateResult, error)
	// Update rewrites the order document, failing with a conflict when the
	// stored updatedAt no longer matches req.ExpectedUpdatedAt.
	Update(ctx context.Context, req OrderUpdateRequest) error
	// CancelWithWalletRefund flips the order to cancelled and credits the
	// wallet portion back in the same transaction.
	CancelWithWalletRefund(ctx context.Context, req OrderCancelRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderCreateRequest carries the order plus the wallet debit to apply atomically.
type OrderCreateRequest struct {
	Order       domain.Order
	WalletDebit int64
	Now         time.Time
}

// OrderCreateResult reports the stored order and the wallet balance after debit.
type OrderCreateResult struct {
	Order         domain.Order
	WalletBalance int64
}

// OrderUpdateRequest carries the new order state plus the updatedAt value the
// caller last read, used for optimistic concurrency.
type OrderUpdateRequest struct {
	Order             domain.Order
	ExpectedUpdatedAt time.Time
}

// OrderCancelRequest flips an order to cancelled with its refund metadata.
type OrderCancelRequest struct {
	Order        domain.Order
	WalletRefund int64
	Now          time.Time
}

// CouponRepository maintains admin-managed coupon definitions keyed by
// normalised (upper-cased) code.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, code string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter domain.CouponFilter) (domain.CursorPage[domain.Coupon], error)
}

// WalletRepository owns the per-owner balance document and its entry subcollection.
// Credit and Debit each run in a transaction on the balance document, so
// concurrent mutations of one account serialise.
type WalletRepository interface {
	Get(ctx context.Context, ownerID string) (domain.WalletAccount, error)
	Credit(ctx context.Context, req WalletMutationRequest) (WalletMutationResult, error)
	Debit(ctx context.Context, req WalletMutationRequest) (WalletMutationResult, error)
	ListEntries(ctx context.Context, ownerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error)
}

// WalletMutationRequest describes one balance change and its ledger entry.
type WalletMutationRequest struct {
	OwnerID     string
	Amount      int64
	Reason      string
	OrderRef    *string
	GiftCardRef *string
	Now         time.Time
}

// WalletMutationResult reports the written entry and the resulting balance.
type WalletMutationResult struct {
	Entry   domain.WalletEntry
	Balance int64
}

// GiftCardRepository stores prepaid codes. Redeem flips the card and credits
// the wallet in one transaction; under concurrency exactly one caller wins.
type GiftCardRepository interface {
	Insert(ctx context.Context, card domain.GiftCard) error
	FindByCode(ctx context.Context, code string) (domain.GiftCard, error)
	Redeem(ctx context.Context, req GiftCardRedeemRequest) (GiftCardRedeemResult, error)
}

// GiftCardRedeemRequest identifies the card and the wallet to credit.
type GiftCardRedeemRequest struct {
	Code    string
	OwnerID string
	Now     time.Time
}

// GiftCardRedeemResult reports the redeemed card and the credited balance.
type GiftCardRedeemResult struct {
	Card    domain.GiftCard
	Entry   domain.WalletEntry
	Balance int64
}

// CatalogRepository is the read-only product view checkout validates against.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.CatalogProduct, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.CatalogProduct, error)
}

// AuditLogRepository persists immutable audit trail entries for admin actions.
type AuditLogRepository interface {
	Append(ctx context.Context, entry AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogEntry records one admin or system action against a target document.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Detail    map[string]any
	CreatedAt time.Time
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	OwnerID    string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Sort       domain.SortOrder
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
