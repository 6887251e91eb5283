package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/api/internal/payments"
	"github.com/threadline/api/internal/platform/config"
	"github.com/threadline/api/internal/repositories"
	"github.com/threadline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Coupons   services.CouponService
	Wallets   services.WalletService
	GiftCards services.GiftCardService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	System    services.SystemService
	Audit     services.AuditLogService
}

// EventLoggerFunc emits one structured service event.
type EventLoggerFunc func(ctx context.Context, event string, fields map[string]any)

// Deps carries collaborators that live outside the repository registry.
type Deps struct {
	Payments *payments.Manager
	Events   services.OrderEventPublisher
	Clock    func() time.Time
	Build    services.BuildInfo
	// Logger yields a per-component event logger; nil leaves services silent.
	Logger func(component string) EventLoggerFunc
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logFor := deps.Logger
	if logFor == nil {
		logFor = func(string) EventLoggerFunc { return nil }
	}

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	if couponRepo := reg.Coupons(); couponRepo != nil {
		couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
			Coupons: couponRepo,
			Audit:   svc.Audit,
			Clock:   clock,
			Logger:  logFor("coupons"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build coupon service: %w", err)
		}
		svc.Coupons = couponSvc
	}

	if walletRepo := reg.Wallets(); walletRepo != nil {
		walletSvc, err := services.NewWalletService(services.WalletServiceDeps{
			Wallets: walletRepo,
			Audit:   svc.Audit,
			Clock:   clock,
			Logger:  logFor("wallets"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build wallet service: %w", err)
		}
		svc.Wallets = walletSvc
	}

	if giftCardRepo := reg.GiftCards(); giftCardRepo != nil {
		giftCardSvc, err := services.NewGiftCardService(services.GiftCardServiceDeps{
			GiftCards: giftCardRepo,
			Audit:     svc.Audit,
			Clock:     clock,
			Logger:    logFor("giftcards"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build gift card service: %w", err)
		}
		svc.GiftCards = giftCardSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && deps.Payments != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:   ordersRepo,
			Payments: deps.Payments,
			Events:   deps.Events,
			Clock:    clock,
			Logger:   logFor("orders"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil && svc.Coupons != nil && deps.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:   ordersRepo,
			Catalog:  reg.Catalog(),
			Wallets:  reg.Wallets(),
			Counters: reg.Counters(),
			Coupons:  svc.Coupons,
			Payments: deps.Payments,
			Events:   deps.Events,
			Pricing: services.PricingCalculator{
				ShippingFlatFee:    cfg.Pricing.ShippingFlatFee,
				TaxRateBasisPoints: cfg.Pricing.TaxRateBasisPoints,
				Currency:           cfg.Pricing.Currency,
			},
			Clock:  clock,
			Logger: logFor("checkout"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}
