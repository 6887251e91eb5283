package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/threadline/api/internal/platform/firestore"
	"github.com/threadline/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract. Close tears down the shared provider.
type Registry struct {
	provider *pfirestore.Provider

	orders    *OrderRepository
	coupons   *CouponRepository
	wallets   *WalletRepository
	giftCards *GiftCardRepository
	catalog   *CatalogRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// NewRegistry constructs every Firestore repository on the shared provider.
// The health repository is injected because its probes reach beyond Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build coupon repository: %w", err)
	}
	wallets, err := NewWalletRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build wallet repository: %w", err)
	}
	giftCards, err := NewGiftCardRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build gift card repository: %w", err)
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build catalog repository: %w", err)
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build audit log repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		coupons:   coupons,
		wallets:   wallets,
		giftCards: giftCards,
		catalog:   catalog,
		auditLogs: auditLogs,
		counters:  counters,
		health:    health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Coupons() repositories.CouponRepository     { return r.coupons }
func (r *Registry) Wallets() repositories.WalletRepository     { return r.wallets }
func (r *Registry) GiftCards() repositories.GiftCardRepository { return r.giftCards }
func (r *Registry) Catalog() repositories.CatalogRepository    { return r.catalog }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

var _ repositories.Registry = (*Registry)(nil)
