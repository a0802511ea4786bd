package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func seededMemory(t *testing.T) (*MemoryAdapter, []Shopper) {
	t.Helper()
	m := NewMemoryAdapter()
	catalog, shoppers := Rush(RushPlan{
		BaseID:   100,
		Shoppers: 2,
		Quantity: 2,
		Price:    decimal.NewFromInt(100),
		Stock:    5,
		Balance:  decimal.NewFromInt(300),
	})
	if err := m.Load(context.Background(), catalog); err != nil {
		t.Fatalf("load: %v", err)
	}
	return m, shoppers
}

func TestMemoryAdapter_RollbackDiscardsWrites(t *testing.T) {
	m, shoppers := seededMemory(t)
	before := m.Dump()
	boom := errors.New("boom")

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if ok, err := tx.DecrementStock(ctx, 100, 3); err != nil || !ok {
			t.Fatalf("decrement: ok=%v err=%v", ok, err)
		}
		if _, err := tx.DeleteCartItems(ctx, []int64{shoppers[0].CartItemID}); err != nil {
			t.Fatalf("delete: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if !reflect.DeepEqual(before, m.Dump()) {
		t.Error("rolled back work is visible")
	}
}

func TestMemoryAdapter_CommitPublishesWrites(t *testing.T) {
	m, shoppers := seededMemory(t)

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.DecrementStock(ctx, 100, 3); err != nil {
			return err
		}
		_, err := tx.DeleteCartItems(ctx, []int64{shoppers[0].CartItemID})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, _ := m.Variant(100); v.Stock != 2 {
		t.Errorf("expected stock 2, got %d", v.Stock)
	}
	if m.HasCartItem(shoppers[0].CartItemID) {
		t.Error("expected cart item to be deleted")
	}
}

func TestMemoryAdapter_ConditionalWrites(t *testing.T) {
	m, shoppers := seededMemory(t)
	wallet, _ := m.WalletOf(shoppers[0].CustomerID)

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if ok, _ := tx.DecrementStock(ctx, 100, 6); ok {
			t.Error("decrement beyond stock succeeded")
		}
		if ok, _ := tx.DebitWallet(ctx, wallet.ID, decimal.NewFromInt(301)); ok {
			t.Error("debit beyond balance succeeded")
		}
		if ok, _ := tx.DebitWallet(ctx, wallet.ID, decimal.NewFromInt(300)); !ok {
			t.Error("debit of full balance failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w, _ := m.WalletOf(shoppers[0].CustomerID); !w.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", w.Balance)
	}
}

func TestMemoryAdapter_UniqueTransactionID(t *testing.T) {
	m, _ := seededMemory(t)
	payment := domain.Payment{ID: "p-1", OrderID: "o-1", TransactionID: "txn-1"}

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		payment.ID, payment.OrderID = "p-2", "o-2"
		return tx.CreatePayment(ctx, payment)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryAdapter_CancelledContext(t *testing.T) {
	m, _ := seededMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error { return nil })
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}

func TestMemoryAdapter_LockWaitBoundedByContext(t *testing.T) {
	m, _ := seededMemory(t)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ran := false
	start := time.Now()
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		ran = true
		return nil
	})
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
	if ran {
		t.Error("unit of work ran without the lock")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lock wait took %v", elapsed)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error { return nil }); err != nil {
		t.Errorf("lock not released: %v", err)
	}
}

func TestMemoryAdapter_Outbox(t *testing.T) {
	m, _ := seededMemory(t)
	ctx := context.Background()

	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		for _, id := range []string{"e-1", "e-2"} {
			if err := tx.InsertOutboxEvent(ctx, domain.OutboxEvent{
				EventID: id, Type: domain.EventOrderPlaced, Key: id, Payload: []byte(`{}`), CreatedAt: time.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	pending, _ := m.FetchPendingEvents(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}
	if err := m.MarkEventSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark: %v", err)
	}

	pending, _ = m.FetchPendingEvents(ctx, 10)
	if len(pending) != 1 || pending[0].EventID != "e-2" {
		t.Errorf("expected only e-2 pending, got %+v", pending)
	}

	if err := m.MarkEventSent(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAdapter_MerchantQueries(t *testing.T) {
	m, shoppers := seededMemory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order := domain.Order{ID: "o-1", CustomerID: shoppers[0].CustomerID, AddressID: shoppers[0].AddressID,
			TotalPrice: decimal.NewFromInt(200), Status: domain.OrderStatusPending, CreatedAt: now, UpdatedAt: now}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.CreateOrderItems(ctx, []domain.OrderItem{{OrderID: "o-1", VariantID: 100, Quantity: 2, Price: decimal.NewFromInt(100)}})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orders, _ := m.ListOrdersByMerchant(ctx, 100)
	if len(orders) != 1 || orders[0].ID != "o-1" {
		t.Errorf("expected merchant to see o-1, got %+v", orders)
	}
	if ok, _ := m.OrderHasMerchant(ctx, "o-1", 100); !ok {
		t.Error("expected order to contain merchant items")
	}
	if ok, _ := m.OrderHasMerchant(ctx, "o-1", 999); ok {
		t.Error("unexpected merchant match")
	}

	items, _ := m.ListOrderItems(ctx, "o-1")
	if len(items) != 1 || items[0].ID == 0 {
		t.Errorf("expected one item with an id, got %+v", items)
	}
}
