package di

import (
	"context"
	"testing"
	"time"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/payments"
	"github.com/threadline/api/internal/platform/config"
	"github.com/threadline/api/internal/repositories"
)

type stubRegistry struct {
	closed bool
}

func (s *stubRegistry) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func (s *stubRegistry) Orders() repositories.OrderRepository       { return stubRegOrders{} }
func (s *stubRegistry) Coupons() repositories.CouponRepository     { return stubRegCoupons{} }
func (s *stubRegistry) Wallets() repositories.WalletRepository     { return stubRegWallets{} }
func (s *stubRegistry) GiftCards() repositories.GiftCardRepository { return stubRegGiftCards{} }
func (s *stubRegistry) Catalog() repositories.CatalogRepository    { return stubRegCatalog{} }
func (s *stubRegistry) AuditLogs() repositories.AuditLogRepository { return stubRegAuditLogs{} }
func (s *stubRegistry) Counters() repositories.CounterRepository   { return stubRegCounters{} }
func (s *stubRegistry) Health() repositories.HealthRepository      { return stubRegHealth{} }

type stubRegOrders struct{}

func (stubRegOrders) CreateWithWalletDebit(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	return repositories.OrderCreateResult{}, nil
}

func (stubRegOrders) Update(ctx context.Context, req repositories.OrderUpdateRequest) error {
	return nil
}

func (stubRegOrders) CancelWithWalletRefund(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	return domain.Order{}, nil
}

func (stubRegOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return domain.Order{}, nil
}

func (stubRegOrders) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}

type stubRegCoupons struct{}

func (stubRegCoupons) Insert(ctx context.Context, coupon domain.Coupon) error { return nil }
func (stubRegCoupons) Delete(ctx context.Context, code string) error          { return nil }

func (stubRegCoupons) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return domain.Coupon{}, nil
}

func (stubRegCoupons) List(ctx context.Context, filter domain.CouponFilter) (domain.CursorPage[domain.Coupon], error) {
	return domain.CursorPage[domain.Coupon]{}, nil
}

type stubRegWallets struct{}

func (stubRegWallets) Get(ctx context.Context, ownerID string) (domain.WalletAccount, error) {
	return domain.WalletAccount{}, nil
}

func (stubRegWallets) Credit(ctx context.Context, req repositories.WalletMutationRequest) (repositories.WalletMutationResult, error) {
	return repositories.WalletMutationResult{}, nil
}

func (stubRegWallets) Debit(ctx context.Context, req repositories.WalletMutationRequest) (repositories.WalletMutationResult, error) {
	return repositories.WalletMutationResult{}, nil
}

func (stubRegWallets) ListEntries(ctx context.Context, ownerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error) {
	return domain.CursorPage[domain.WalletEntry]{}, nil
}

type stubRegGiftCards struct{}

func (stubRegGiftCards) Insert(ctx context.Context, card domain.GiftCard) error { return nil }

func (stubRegGiftCards) FindByCode(ctx context.Context, code string) (domain.GiftCard, error) {
	return domain.GiftCard{}, nil
}

func (stubRegGiftCards) Redeem(ctx context.Context, req repositories.GiftCardRedeemRequest) (repositories.GiftCardRedeemResult, error) {
	return repositories.GiftCardRedeemResult{}, nil
}

type stubRegCatalog struct{}

func (stubRegCatalog) GetProduct(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	return domain.CatalogProduct{}, nil
}

func (stubRegCatalog) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.CatalogProduct, error) {
	return map[string]domain.CatalogProduct{}, nil
}

type stubRegAuditLogs struct{}

func (stubRegAuditLogs) Append(ctx context.Context, entry repositories.AuditLogEntry) error {
	return nil
}

func (stubRegAuditLogs) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[repositories.AuditLogEntry], error) {
	return domain.CursorPage[repositories.AuditLogEntry]{}, nil
}

type stubRegCounters struct{}

func (stubRegCounters) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	return 1, nil
}

func (stubRegCounters) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return nil
}

type stubRegHealth struct{}

func (stubRegHealth) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{}, nil
}

type stubPaymentProvider struct{}

func (stubPaymentProvider) Authorize(ctx context.Context, req payments.AuthorizeRequest) (payments.Authorization, error) {
	return payments.Authorization{}, nil
}

func (stubPaymentProvider) Capture(ctx context.Context, req payments.CaptureRequest) (payments.PaymentDetails, error) {
	return payments.PaymentDetails{}, nil
}

func (stubPaymentProvider) Void(ctx context.Context, req payments.VoidRequest) (payments.PaymentDetails, error) {
	return payments.PaymentDetails{}, nil
}

func (stubPaymentProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error) {
	return payments.PaymentDetails{}, nil
}

func (stubPaymentProvider) LookupPayment(ctx context.Context, req payments.LookupRequest) (payments.PaymentDetails, error) {
	return payments.PaymentDetails{}, nil
}

func containerTestConfig() config.Config {
	var cfg config.Config
	cfg.Pricing.Currency = "usd"
	cfg.Pricing.ShippingFlatFee = 500
	cfg.Pricing.TaxRateBasisPoints = 875
	cfg.Security.Environment = "test"
	return cfg
}

func containerTestDeps(t *testing.T) Deps {
	t.Helper()
	manager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stubPaymentProvider{},
	})
	if err != nil {
		t.Fatalf("new payment manager: %v", err)
	}
	return Deps{
		Payments: manager,
		Clock:    func() time.Time { return time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestNewContainer_RequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), containerTestConfig(), nil, containerTestDeps(t))
	if err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainer_BuildsAllServices(t *testing.T) {
	reg := &stubRegistry{}
	container, err := NewContainer(context.Background(), containerTestConfig(), reg, containerTestDeps(t))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	svc := container.Services
	if svc.Audit == nil {
		t.Fatalf("expected audit service")
	}
	if svc.Coupons == nil {
		t.Fatalf("expected coupon service")
	}
	if svc.Wallets == nil {
		t.Fatalf("expected wallet service")
	}
	if svc.GiftCards == nil {
		t.Fatalf("expected gift card service")
	}
	if svc.System == nil {
		t.Fatalf("expected system service")
	}
	if svc.Orders == nil {
		t.Fatalf("expected order service")
	}
	if svc.Checkout == nil {
		t.Fatalf("expected checkout service")
	}
}

func TestContainer_CloseDelegatesToRegistry(t *testing.T) {
	reg := &stubRegistry{}
	container, err := NewContainer(context.Background(), containerTestConfig(), reg, containerTestDeps(t))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close container: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry close to be invoked")
	}
}
