package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/payments"
	"github.com/threadline/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutProductUnavailable indicates a submitted product is missing or inactive.
	ErrCheckoutProductUnavailable = errors.New("checkout: product unavailable")
	// ErrCheckoutPriceChanged indicates a submitted unit price no longer matches the catalog.
	ErrCheckoutPriceChanged = errors.New("checkout: price changed")
	// ErrCheckoutPaymentFailed indicates the PSP declined the authorization.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// checkoutPaymentManager abstracts payments.Manager for easier testing.
type checkoutPaymentManager interface {
	Authorize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AuthorizeRequest) (payments.Authorization, error)
	Void(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VoidRequest) (payments.PaymentDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Wallets     repositories.WalletRepository
	Counters    repositories.CounterRepository
	Coupons     CouponService
	Payments    checkoutPaymentManager
	Events      OrderEventPublisher
	Pricing     PricingCalculator
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type checkoutService struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogRepository
	wallets  repositories.WalletRepository
	counters repositories.CounterRepository
	coupons  CouponService
	payments checkoutPaymentManager
	events   OrderEventPublisher
	pricing  PricingCalculator
	money    moneyFormatter
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Wallets == nil {
		return nil, errors.New("checkout service: wallet repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	if strings.TrimSpace(deps.Pricing.Currency) == "" {
		return nil, errors.New("checkout service: pricing currency is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &checkoutService{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		wallets:  deps.Wallets,
		counters: deps.Counters,
		coupons:  deps.Coupons,
		payments: deps.Payments,
		events:   deps.Events,
		pricing:  deps.Pricing,
		money:    newMoneyFormatter(deps.Pricing.Currency, language.English),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// Quote prices the submitted cart without touching the PSP or persisting anything.
func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (PriceBreakdown, error) {
	if s == nil || s.catalog == nil {
		return PriceBreakdown{}, ErrCheckoutUnavailable
	}

	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return PriceBreakdown{}, fmt.Errorf("%w: owner id is required", ErrCheckoutInvalidInput)
	}

	priced, err := s.priceCart(ctx, ownerID, cmd.Lines, cmd.CouponCode, cmd.UseWallet)
	if err != nil {
		return PriceBreakdown{}, err
	}
	return priced.breakdown, nil
}

// PlaceOrder validates and prices the cart, authorizes payment for the payable
// total, then commits the order together with its wallet debit in a single
// transaction. On persistence failure the authorization is voided so no hold
// outlives a failed order.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return Order{}, ErrCheckoutUnavailable
	}

	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return Order{}, fmt.Errorf("%w: owner id is required", ErrCheckoutInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}

	priced, err := s.priceCart(ctx, ownerID, cmd.Lines, cmd.CouponCode, cmd.UseWallet)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.logger(ctx, "checkout.order_number.failed", map[string]any{
			"ownerID": ownerID,
			"error":   err.Error(),
		})
		return Order{}, ErrCheckoutUnavailable
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     orderNumber,
		OwnerID:         ownerID,
		Status:          domain.OrderStatusPending,
		RefundStatus:    domain.RefundStatusNone,
		Currency:        priced.breakdown.Currency,
		Pricing:         priced.breakdown,
		Items:           buildOrderLineItems(priced.lines),
		ShippingAddress: cmd.ShippingAddress,
		Metadata:        maps.Clone(cmd.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if priced.coupon != nil {
		code := priced.coupon.Code
		order.CouponCode = &code
	}

	auth, authorized, err := s.authorizePayment(ctx, cmd, order)
	if err != nil {
		return Order{}, err
	}
	if authorized {
		ref := auth.IntentID
		order.PaymentRef = &ref
	}

	result, err := s.orders.CreateWithWalletDebit(ctx, repositories.OrderCreateRequest{
		Order:       order,
		WalletDebit: priced.breakdown.WalletApplied,
		Now:         now,
	})
	if err != nil {
		if authorized {
			s.voidAuthorization(ctx, order, auth)
		}
		return Order{}, s.translatePersistError(ctx, order, err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        domain.OrderEventCreated,
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		OwnerID:     ownerID,
		Status:      result.Order.Status,
		Amount:      result.Order.Pricing.Total,
		AmountText:  s.money.Format(result.Order.Pricing.Total),
		OccurredAt:  now,
	})

	return result.Order, nil
}

// pricedCart carries catalog-verified lines alongside the computed breakdown.
type pricedCart struct {
	lines     []CartLine
	coupon    *AppliedCoupon
	breakdown PriceBreakdown
}

func (s *checkoutService) priceCart(ctx context.Context, ownerID string, lines []CartLine, couponCode *string, useWallet bool) (pricedCart, error) {
	verified, err := s.verifyCatalogLines(ctx, lines)
	if err != nil {
		return pricedCart{}, err
	}

	var coupon *AppliedCoupon
	if couponCode != nil && strings.TrimSpace(*couponCode) != "" {
		applied, err := s.coupons.Validate(ctx, *couponCode, verified)
		if err != nil {
			return pricedCart{}, err
		}
		coupon = &applied
	}

	var walletBalance int64
	if useWallet {
		account, err := s.wallets.Get(ctx, ownerID)
		if err != nil {
			s.logger(ctx, "checkout.wallet_read.failed", map[string]any{
				"ownerID": ownerID,
				"error":   err.Error(),
			})
			return pricedCart{}, ErrCheckoutUnavailable
		}
		walletBalance = account.Balance
	}

	return pricedCart{
		lines:     verified,
		coupon:    coupon,
		breakdown: s.pricing.Quote(verified, coupon, useWallet, walletBalance),
	}, nil
}

// verifyCatalogLines re-reads every submitted line against the catalog. The
// stored price wins: a stale submitted price is rejected, never silently
// repriced.
func (s *checkoutService) verifyCatalogLines(ctx context.Context, lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrCheckoutInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", ErrCheckoutInvalidInput)
		}
		ids = append(ids, productID)
	}

	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		s.logger(ctx, "checkout.catalog_read.failed", map[string]any{
			"products": len(ids),
			"error":    err.Error(),
		})
		return nil, ErrCheckoutUnavailable
	}

	byID := make(map[string]domain.CatalogProduct, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	verified := make([]CartLine, 0, len(lines))
	for _, line := range lines {
		product, ok := byID[strings.TrimSpace(line.ProductID)]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, line.ProductID)
		}
		if line.UnitPrice != product.UnitPrice {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutPriceChanged, product.ID)
		}
		line.ProductID = product.ID
		line.Name = product.Name
		line.Category = product.Category
		verified = append(verified, line)
	}
	return verified, nil
}

func (s *checkoutService) authorizePayment(ctx context.Context, cmd PlaceOrderCommand, order Order) (payments.Authorization, bool, error) {
	if order.Pricing.Total <= 0 {
		return payments.Authorization{}, false, nil
	}

	auth, err := s.payments.Authorize(ctx, payments.PaymentContext{Currency: order.Currency}, payments.AuthorizeRequest{
		Amount:          order.Pricing.Total,
		Currency:        order.Currency,
		CustomerID:      order.OwnerID,
		PaymentMethodID: strings.TrimSpace(cmd.PaymentMethod),
		OrderNumber:     order.OrderNumber,
		Description:     "order " + order.OrderNumber,
		IdempotencyKey:  order.ID,
		Metadata: map[string]string{
			"order_id": order.ID,
		},
	})
	if err != nil {
		if errors.Is(err, payments.ErrAuthorizationDeclined) {
			return payments.Authorization{}, false, fmt.Errorf("%w: %s", ErrCheckoutPaymentFailed, order.OrderNumber)
		}
		s.logger(ctx, "checkout.authorize.failed", map[string]any{
			"orderNumber": order.OrderNumber,
			"error":       err.Error(),
		})
		return payments.Authorization{}, false, ErrCheckoutUnavailable
	}
	return auth, true, nil
}

// voidAuthorization releases the hold after a persistence failure. Best
// effort: a failed void is logged for reconciliation, not surfaced.
func (s *checkoutService) voidAuthorization(ctx context.Context, order Order, auth payments.Authorization) {
	_, err := s.payments.Void(ctx, payments.PaymentContext{
		PreferredProvider: auth.Provider,
		Currency:          order.Currency,
	}, payments.VoidRequest{
		IntentID:       auth.IntentID,
		Reason:         "abandoned",
		IdempotencyKey: order.ID + ":void",
	})
	if err != nil {
		s.logger(ctx, "checkout.void.failed", map[string]any{
			"orderNumber":   order.OrderNumber,
			"paymentIntent": auth.IntentID,
			"error":         err.Error(),
		})
	}
}

func (s *checkoutService) translatePersistError(ctx context.Context, order Order, err error) error {
	var walletErr *repositories.WalletError
	if errors.As(err, &walletErr) && walletErr.Code == repositories.WalletErrorInsufficientFunds {
		return fmt.Errorf("%w: wallet balance changed", ErrCheckoutConflict)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return ErrCheckoutConflict
	}
	s.logger(ctx, "checkout.persist.failed", map[string]any{
		"orderNumber": order.OrderNumber,
		"error":       err.Error(),
	})
	return ErrCheckoutUnavailable
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TL-%04d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func buildOrderLineItems(lines []CartLine) []domain.OrderLineItem {
	items := make([]domain.OrderLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderLineItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Category:  line.Category,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Total:     line.UnitPrice * int64(line.Quantity),
		})
	}
	return items
}

func validateShippingAddress(addr Address) error {
	if strings.TrimSpace(addr.Recipient) == "" {
		return fmt.Errorf("%w: shipping recipient is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: shipping address line is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: shipping city is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping postal code is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: shipping country is required", ErrCheckoutInvalidInput)
	}
	return nil
}
