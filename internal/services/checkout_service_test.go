package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/payments"
	"github.com/threadline/api/internal/repositories"
)

type stubOrderRepository struct {
	createResult repositories.OrderCreateResult
	createErr    error
	createReqs   []repositories.OrderCreateRequest
	cancelResult domain.Order
	cancelErr    error
	cancelReqs   []repositories.OrderCancelRequest
	order        domain.Order
	findErr      error
	updated      []repositories.OrderUpdateRequest
	updateErr    error
	page         domain.CursorPage[domain.Order]
	listErr      error
}

func (s *stubOrderRepository) CreateWithWalletDebit(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	s.createReqs = append(s.createReqs, req)
	if s.createErr != nil {
		return repositories.OrderCreateResult{}, s.createErr
	}
	if s.createResult.Order.ID == "" {
		return repositories.OrderCreateResult{Order: req.Order}, nil
	}
	return s.createResult, nil
}

func (s *stubOrderRepository) Update(ctx context.Context, req repositories.OrderUpdateRequest) error {
	s.updated = append(s.updated, req)
	return s.updateErr
}

func (s *stubOrderRepository) CancelWithWalletRefund(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	s.cancelReqs = append(s.cancelReqs, req)
	if s.cancelErr != nil {
		return domain.Order{}, s.cancelErr
	}
	if s.cancelResult.ID == "" {
		return req.Order, nil
	}
	return s.cancelResult, nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return s.order, s.findErr
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return s.page, s.listErr
}

type stubCatalogRepository struct {
	products map[string]domain.CatalogProduct
	err      error
}

func (s *stubCatalogRepository) GetProduct(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	if s.err != nil {
		return domain.CatalogProduct{}, s.err
	}
	return s.products[productID], nil
}

func (s *stubCatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.CatalogProduct, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := make(map[string]domain.CatalogProduct, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

type stubCounterRepository struct {
	next int64
	err  error
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return s.err
}

type stubCouponValidator struct {
	applied AppliedCoupon
	err     error
}

func (s *stubCouponValidator) Validate(ctx context.Context, code string, lines []CartLine) (AppliedCoupon, error) {
	return s.applied, s.err
}

func (s *stubCouponValidator) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	return Coupon{}, errors.New("not implemented")
}

func (s *stubCouponValidator) DeleteCoupon(ctx context.Context, cmd DeleteCouponCommand) error {
	return errors.New("not implemented")
}

func (s *stubCouponValidator) ListCoupons(ctx context.Context, filter CouponFilter) (domain.CursorPage[Coupon], error) {
	return domain.CursorPage[Coupon]{}, errors.New("not implemented")
}

type stubPaymentManager struct {
	auth       payments.Authorization
	authErr    error
	authorized []payments.AuthorizeRequest
	voided     []payments.VoidRequest
	voidErr    error
}

func (s *stubPaymentManager) Authorize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AuthorizeRequest) (payments.Authorization, error) {
	s.authorized = append(s.authorized, req)
	return s.auth, s.authErr
}

func (s *stubPaymentManager) Void(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VoidRequest) (payments.PaymentDetails, error) {
	s.voided = append(s.voided, req)
	return payments.PaymentDetails{}, s.voidErr
}

type captureEventPublisher struct {
	events []OrderEvent
	err    error
}

func (s *captureEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func checkoutCatalog() *stubCatalogRepository {
	return &stubCatalogRepository{
		products: map[string]domain.CatalogProduct{
			"prod_tee":    {ID: "prod_tee", Name: "Studio Tee", Category: "T-Shirts", UnitPrice: 50000, Active: true},
			"prod_hoodie": {ID: "prod_hoodie", Name: "Heavy Hoodie", Category: "Hoodies", UnitPrice: 100000, Active: true},
		},
	}
}

func newTestCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepository{}
	}
	if deps.Catalog == nil {
		deps.Catalog = checkoutCatalog()
	}
	if deps.Wallets == nil {
		deps.Wallets = &stubWalletRepository{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepository{}
	}
	if deps.Coupons == nil {
		deps.Coupons = &stubCouponValidator{}
	}
	if deps.Payments == nil {
		deps.Payments = &stubPaymentManager{auth: payments.Authorization{Provider: "stripe", IntentID: "pi_1", Status: payments.StatusAuthorized}}
	}
	if deps.Pricing.Currency == "" {
		deps.Pricing = PricingCalculator{ShippingFlatFee: 50000, TaxRateBasisPoints: 800, Currency: "INR"}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2026, time.June, 5, 9, 30, 0, 0, time.UTC) }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01TESTULID0000000000000000" }
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func TestCheckoutService_Quote_WithCoupon(t *testing.T) {
	coupons := &stubCouponValidator{
		applied: AppliedCoupon{
			Code:         "STUDIO10",
			DiscountType: domain.DiscountTypePercentage,
			Value:        10,
			Scope:        domain.CouponScopeAll,
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Coupons: coupons})

	code := "STUDIO10"
	breakdown, err := svc.Quote(context.Background(), QuoteCommand{
		OwnerID:    "user_1",
		Lines:      fixedCartLines(),
		CouponCode: &code,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if breakdown.Total != 244400 {
		t.Fatalf("total = %d, want 244400", breakdown.Total)
	}
	if breakdown.Discount != 20000 {
		t.Fatalf("discount = %d, want 20000", breakdown.Discount)
	}
}

func TestCheckoutService_Quote_PropagatesCouponError(t *testing.T) {
	coupons := &stubCouponValidator{err: ErrCouponExpired}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Coupons: coupons})

	code := "OLD"
	_, err := svc.Quote(context.Background(), QuoteCommand{
		OwnerID:    "user_1",
		Lines:      fixedCartLines(),
		CouponCode: &code,
	})
	if !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired got %v", err)
	}
}

func TestCheckoutService_Quote_RejectsStalePrice(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	lines := fixedCartLines()
	lines[0].UnitPrice = 45000 // catalog says 50000

	_, err := svc.Quote(context.Background(), QuoteCommand{OwnerID: "user_1", Lines: lines})
	if !errors.Is(err, ErrCheckoutPriceChanged) {
		t.Fatalf("expected ErrCheckoutPriceChanged got %v", err)
	}
}

func TestCheckoutService_Quote_RejectsInactiveProduct(t *testing.T) {
	catalog := checkoutCatalog()
	product := catalog.products["prod_tee"]
	product.Active = false
	catalog.products["prod_tee"] = product

	svc := newTestCheckoutService(t, CheckoutServiceDeps{Catalog: catalog})

	_, err := svc.Quote(context.Background(), QuoteCommand{OwnerID: "user_1", Lines: fixedCartLines()})
	if !errors.Is(err, ErrCheckoutProductUnavailable) {
		t.Fatalf("expected ErrCheckoutProductUnavailable got %v", err)
	}
}

func TestCheckoutService_Quote_RejectsEmptyCart(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	_, err := svc.Quote(context.Background(), QuoteCommand{OwnerID: "user_1"})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput got %v", err)
	}
}

func testShippingAddress() Address {
	return Address{
		Recipient:  "Asha Rao",
		Line1:      "14 MG Road",
		City:       "Bengaluru",
		PostalCode: "560001",
		Country:    "IN",
	}
}

func TestCheckoutService_PlaceOrder_Success(t *testing.T) {
	orders := &stubOrderRepository{}
	pay := &stubPaymentManager{auth: payments.Authorization{Provider: "stripe", IntentID: "pi_42", Status: payments.StatusAuthorized}}
	events := &captureEventPublisher{}
	wallets := &stubWalletRepository{account: domain.WalletAccount{OwnerID: "user_1", Balance: 100000}}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:   orders,
		Payments: pay,
		Events:   events,
		Wallets:  wallets,
	})

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		OwnerID:         "user_1",
		Lines:           fixedCartLines(),
		ShippingAddress: testShippingAddress(),
		UseWallet:       true,
		PaymentMethod:   "pm_card",
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %q, want pending", order.Status)
	}
	if order.OrderNumber != "TL-2026-000001" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if order.PaymentRef == nil || *order.PaymentRef != "pi_42" {
		t.Fatalf("payment ref = %v, want pi_42", order.PaymentRef)
	}
	if len(orders.createReqs) != 1 {
		t.Fatalf("expected one create, got %d", len(orders.createReqs))
	}
	if orders.createReqs[0].WalletDebit != 100000 {
		t.Fatalf("wallet debit = %d, want 100000", orders.createReqs[0].WalletDebit)
	}
	// 266000 raw minus the 100000 wallet hold.
	if len(pay.authorized) != 1 || pay.authorized[0].Amount != 166000 {
		t.Fatalf("authorized = %+v, want one authorize for 166000", pay.authorized)
	}
	if len(events.events) != 1 || events.events[0].Type != domain.OrderEventCreated {
		t.Fatalf("expected one order.created event, got %+v", events.events)
	}
	if events.events[0].AmountText == "" {
		t.Fatalf("expected formatted amount on event")
	}
}

func TestCheckoutService_PlaceOrder_WalletCoversEverything(t *testing.T) {
	orders := &stubOrderRepository{}
	pay := &stubPaymentManager{}
	wallets := &stubWalletRepository{account: domain.WalletAccount{OwnerID: "user_1", Balance: 500000}}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:   orders,
		Payments: pay,
		Wallets:  wallets,
	})

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		OwnerID:         "user_1",
		Lines:           fixedCartLines(),
		ShippingAddress: testShippingAddress(),
		UseWallet:       true,
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if len(pay.authorized) != 0 {
		t.Fatalf("expected no PSP call for zero total, got %d", len(pay.authorized))
	}
	if order.PaymentRef != nil {
		t.Fatalf("expected nil payment ref, got %v", *order.PaymentRef)
	}
	if order.Pricing.Total != 0 {
		t.Fatalf("total = %d, want 0", order.Pricing.Total)
	}
}

func TestCheckoutService_PlaceOrder_DeclinedLeavesNothingBehind(t *testing.T) {
	orders := &stubOrderRepository{}
	pay := &stubPaymentManager{authErr: payments.ErrAuthorizationDeclined}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{Orders: orders, Payments: pay})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		OwnerID:         "user_1",
		Lines:           fixedCartLines(),
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed got %v", err)
	}
	if len(orders.createReqs) != 0 {
		t.Fatalf("expected no persistence after decline, got %d creates", len(orders.createReqs))
	}
}

func TestCheckoutService_PlaceOrder_VoidsAuthorizationOnPersistFailure(t *testing.T) {
	orders := &stubOrderRepository{
		createErr: repositories.NewWalletError(repositories.WalletErrorInsufficientFunds, "balance changed", nil),
	}
	pay := &stubPaymentManager{auth: payments.Authorization{Provider: "stripe", IntentID: "pi_9", Status: payments.StatusAuthorized}}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{Orders: orders, Payments: pay})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		OwnerID:         "user_1",
		Lines:           fixedCartLines(),
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutConflict) {
		t.Fatalf("expected ErrCheckoutConflict got %v", err)
	}
	if len(pay.voided) != 1 || pay.voided[0].IntentID != "pi_9" {
		t.Fatalf("expected void of pi_9, got %+v", pay.voided)
	}
}

func TestCheckoutService_PlaceOrder_RequiresShippingAddress(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		OwnerID: "user_1",
		Lines:   fixedCartLines(),
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput got %v", err)
	}
}
