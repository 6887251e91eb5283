//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	pconfig "github.com/threadline/api/internal/platform/config"
	pfirestore "github.com/threadline/api/internal/platform/firestore"
	"github.com/threadline/api/internal/repositories"
)

func TestAuditLogRepositoryIntegration_AppendAndList(t *testing.T) {
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
		ProjectID:    "audit-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewAuditLogRepository(provider)
	if err != nil {
		t.Fatalf("new audit log repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		entry := repositories.AuditLogEntry{
			ID:        fmt.Sprintf("aud_it_%02d", i),
			Actor:     "admin_1",
			ActorType: "admin",
			Action:    "coupon.create",
			TargetRef: fmt.Sprintf("coupons/SUMMER%d", i),
			Detail:    map[string]any{"percentOff": int64(10 + i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
	}

	page, err := repo.List(ctx, repositories.AuditLogFilter{
		Actor: "admin_1",
	})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(page.Items))
	}
	// Newest first.
	if page.Items[0].TargetRef != "coupons/SUMMER2" {
		t.Fatalf("first entry target %q, want coupons/SUMMER2", page.Items[0].TargetRef)
	}
}
