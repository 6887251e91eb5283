//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	domain "github.com/threadline/api/internal/domain"
	pconfig "github.com/threadline/api/internal/platform/config"
	pfirestore "github.com/threadline/api/internal/platform/firestore"
	"github.com/threadline/api/internal/repositories"
)

func integrationOrder(now time.Time) domain.Order {
	state := "Karnataka"
	return domain.Order{
		ID:           "ord_it_01",
		OrderNumber:  "TL-2026-000900",
		OwnerID:      "user_it",
		Status:       domain.OrderStatusPending,
		RefundStatus: domain.RefundStatusNone,
		Currency:     "INR",
		Pricing: domain.PriceBreakdown{
			Subtotal: 100000,
			Shipping: 50000,
			Tax:      12000,
			Total:    162000,
			Currency: "INR",
		},
		Items: []domain.OrderLineItem{
			{ProductID: "prod_tee", Name: "Studio Tee", Category: "T-Shirts", Size: "L", Quantity: 2, UnitPrice: 50000, Total: 100000},
		},
		ShippingAddress: domain.Address{
			Recipient:  "Asha Rao",
			Line1:      "14 MG Road",
			City:       "Bengaluru",
			State:      &state,
			PostalCode: "560001",
			Country:    "IN",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepositoryIntegration_UpdateGuardsAndCancelWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "order-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	wallets, err := NewWalletRepository(provider)
	if err != nil {
		t.Fatalf("new wallet repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	seed := integrationOrder(now)
	if _, err := orders.CreateWithWalletDebit(ctx, repositories.OrderCreateRequest{
		Order: seed,
		Now:   now,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// A matching expected timestamp commits the write.
	later := now.Add(time.Minute)
	updated := seed
	updated.Status = domain.OrderStatusProcessing
	updated.ProcessingAt = &later
	updated.UpdatedAt = later
	if err := orders.Update(ctx, repositories.OrderUpdateRequest{
		Order:             updated,
		ExpectedUpdatedAt: now,
	}); err != nil {
		t.Fatalf("update order: %v", err)
	}

	stored, err := orders.FindByID(ctx, seed.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("stored status %q, want processing", stored.Status)
	}

	// A stale expectation must be rejected as a conflict.
	stale := stored
	stale.Status = domain.OrderStatusShipped
	err = orders.Update(ctx, repositories.OrderUpdateRequest{
		Order:             stale,
		ExpectedUpdatedAt: now,
	})
	if err == nil {
		t.Fatalf("expected conflict for stale update")
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %T %v", err, err)
	}

	// Ship the order, then verify a cancellation is rejected and the wallet
	// refund never lands.
	shipped := stored
	shipped.Status = domain.OrderStatusShipped
	shipped.ShippedAt = &later
	shipped.UpdatedAt = later.Add(time.Minute)
	if err := orders.Update(ctx, repositories.OrderUpdateRequest{
		Order:             shipped,
		ExpectedUpdatedAt: stored.UpdatedAt,
	}); err != nil {
		t.Fatalf("ship order: %v", err)
	}

	cancelAttempt := shipped
	cancelAttempt.Status = domain.OrderStatusCancelled
	cancelAttempt.RefundStatus = domain.RefundStatusPending
	_, err = orders.CancelWithWalletRefund(ctx, repositories.OrderCancelRequest{
		Order:        cancelAttempt,
		WalletRefund: 10000,
		Now:          now.Add(2 * time.Minute),
	})
	if err == nil {
		t.Fatalf("expected cancel of shipped order to fail")
	}
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %T %v", err, err)
	}

	stored, err = orders.FindByID(ctx, seed.ID)
	if err != nil {
		t.Fatalf("find order after cancel attempt: %v", err)
	}
	if stored.Status != domain.OrderStatusShipped {
		t.Fatalf("stored status %q, want shipped", stored.Status)
	}

	account, err := wallets.Get(ctx, seed.OwnerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("wallet balance %d, want 0 after rejected refund", account.Balance)
	}
}
