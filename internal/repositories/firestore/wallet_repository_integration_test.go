//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	domain "github.com/threadline/api/internal/domain"
	pconfig "github.com/threadline/api/internal/platform/config"
	pfirestore "github.com/threadline/api/internal/platform/firestore"
	"github.com/threadline/api/internal/repositories"
)

// Concurrent debits of the full balance must serialise on the wallet
// document: exactly one wins, the rest fail on insufficient funds.
func TestWalletRepositoryIntegration_ConcurrentFullDebit(t *testing.T) {
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
		ProjectID:    "wallet-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewWalletRepository(provider)
	if err != nil {
		t.Fatalf("new wallet repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const balance = int64(50000)
	now := time.Now().UTC()
	if _, err := repo.Credit(ctx, repositories.WalletMutationRequest{
		OwnerID: "user_race",
		Amount:  balance,
		Reason:  "seed",
		Now:     now,
	}); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	const workers = 8
	results := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := repo.Debit(ctx, repositories.WalletMutationRequest{
				OwnerID: "user_race",
				Amount:  balance,
				Reason:  "full withdrawal",
				Now:     now,
			})
			results[idx] = err
		}(i)
	}
	wg.Wait()

	var wins, rejections int
	for idx, err := range results {
		if err == nil {
			wins++
			continue
		}
		var walletErr *repositories.WalletError
		if !errors.As(err, &walletErr) {
			t.Fatalf("debit %d: unexpected error %T %v", idx, err, err)
		}
		if walletErr.Code != repositories.WalletErrorInsufficientFunds {
			t.Fatalf("debit %d: expected insufficient funds, got %s", idx, walletErr.Code)
		}
		rejections++
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning debit, got %d (rejections %d)", wins, rejections)
	}

	account, err := repo.Get(ctx, "user_race")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("expected zero balance after full debit, got %d", account.Balance)
	}

	page, err := repo.ListEntries(ctx, "user_race", domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected one credit and one debit entry, got %d", len(page.Items))
	}
}
