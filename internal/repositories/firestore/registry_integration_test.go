//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	pconfig "github.com/shoplane/api/internal/platform/config"
	pfirestore "github.com/shoplane/api/internal/platform/firestore"
	"github.com/shoplane/api/internal/repositories"
)

// Exercises a real client transaction end to end: the batch mutations must
// issue every read before the first queued write or the client aborts with
// "read after write in transaction".
func TestRegistryRunInTxIntegration(t *testing.T) {
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
		ProjectID:    "registry-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	for _, seed := range []struct {
		doc    string
		onHand int
	}{
		{"prod_a", 5},
		{"prod_b", 5},
	} {
		if _, err := client.Collection(stockCollection).Doc(seed.doc).Set(ctx, map[string]any{
			"productId": seed.doc,
			"onHand":    seed.onHand,
			"updatedAt": now,
		}); err != nil {
			t.Fatalf("seed stock %s: %v", seed.doc, err)
		}
	}

	inventory := registry.Inventory()
	lines := []repositories.StockLine{
		{ProductID: "prod_a", Quantity: 2},
		{ProductID: "prod_b", Quantity: 1},
	}

	// A multi-line reservation inside one transaction.
	if err := registry.RunInTx(ctx, func(ctx context.Context) error {
		return inventory.DecrementAll(ctx, lines)
	}); err != nil {
		t.Fatalf("transactional decrement: %v", err)
	}
	for doc, want := range map[string]int64{"prod_a": 3, "prod_b": 4} {
		stock, err := inventory.GetStock(ctx, doc, nil)
		if err != nil {
			t.Fatalf("get stock %s: %v", doc, err)
		}
		if stock.OnHand != want {
			t.Fatalf("expected %s on hand %d, got %d", doc, want, stock.OnHand)
		}
	}

	// A shortfall on the second line must leave the first untouched.
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		return inventory.DecrementAll(ctx, []repositories.StockLine{
			{ProductID: "prod_a", Quantity: 1},
			{ProductID: "prod_b", Quantity: 99},
		})
	})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	stock, err := inventory.GetStock(ctx, "prod_a", nil)
	if err != nil {
		t.Fatalf("get stock after shortfall: %v", err)
	}
	if stock.OnHand != 3 {
		t.Fatalf("expected aborted transaction to leave prod_a at 3, got %d", stock.OnHand)
	}

	// A cancellation round-trip: re-read the order, restock every line, and
	// overwrite the order, all in the same transaction.
	orders := registry.Orders()
	placed := domain.Order{
		ID:            "ord_itx",
		Number:        "SO-9001",
		CustomerID:    "cust_1",
		Email:         "buyer@example.com",
		Lines: []domain.OrderLine{
			{ProductID: "prod_a", Quantity: 2, UnitPrice: 90, Name: "Ring"},
			{ProductID: "prod_b", Quantity: 1, UnitPrice: 150, Name: "Band"},
		},
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: domain.PaymentStatusAuthorized,
		PaymentRef:    "pi_itx",
		Status:        domain.OrderStatusPendingConfirmation,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := orders.Insert(ctx, placed); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	if err := registry.RunInTx(ctx, func(ctx context.Context) error {
		current, err := orders.FindByID(ctx, placed.ID)
		if err != nil {
			return err
		}
		if current.Version != 1 {
			return fmt.Errorf("unexpected version %d", current.Version)
		}
		if err := inventory.IncrementAll(ctx, []repositories.StockLine{
			{ProductID: "prod_a", Quantity: 2},
			{ProductID: "prod_b", Quantity: 1},
		}); err != nil {
			return err
		}
		current.Status = domain.OrderStatusCancelled
		current.PaymentStatus = domain.PaymentStatusCancelled
		current.Version = 2
		return orders.Put(ctx, current)
	}); err != nil {
		t.Fatalf("transactional cancel: %v", err)
	}

	cancelled, err := orders.FindByID(ctx, placed.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.Version != 2 {
		t.Fatalf("expected cancelled v2, got %s v%d", cancelled.Status, cancelled.Version)
	}
	for doc, want := range map[string]int64{"prod_a": 5, "prod_b": 5} {
		stock, err := inventory.GetStock(ctx, doc, nil)
		if err != nil {
			t.Fatalf("get stock %s after restock: %v", doc, err)
		}
		if stock.OnHand != want {
			t.Fatalf("expected %s restored to %d, got %d", doc, want, stock.OnHand)
		}
	}
}
