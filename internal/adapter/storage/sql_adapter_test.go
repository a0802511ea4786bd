package storage

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

// openSQL connects to MYSQL_DSN, or to POSTGRES_DSN through pgx, and applies
// the schema. The test is skipped when neither database is reachable.
func openSQL(t *testing.T) *SQLAdapter {
	t.Helper()

	driverName, dsn := "mysql", os.Getenv("MYSQL_DSN")
	if dsn == "" {
		if pg := os.Getenv("POSTGRES_DSN"); pg != "" {
			driverName, dsn = "pgx", pg
		} else {
			dsn = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		t.Skipf("%s not available: %v", driverName, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("%s not available: %v", driverName, err)
	}
	t.Cleanup(func() { db.Close() })

	dialect, err := DialectFor(driverName)
	if err != nil {
		t.Fatalf("dialect: %v", err)
	}
	adapter := NewSQLAdapter(db, dialect)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return adapter
}

func loadRush(t *testing.T, a *SQLAdapter, plan RushPlan) []Shopper {
	t.Helper()
	plan.BaseID = rand.Int64N(1<<40) * 1000
	catalog, shoppers := Rush(plan)
	if err := a.Load(context.Background(), catalog); err != nil {
		t.Fatalf("load: %v", err)
	}
	return shoppers
}

func stockOf(t *testing.T, a *SQLAdapter, variantID int64) int {
	t.Helper()
	var stock int
	err := a.db.QueryRow(a.dialect.rebind(`SELECT stock FROM product_variants WHERE id = ?`), variantID).Scan(&stock)
	if err != nil {
		t.Fatalf("query stock: %v", err)
	}
	return stock
}

func balanceOf(t *testing.T, a *SQLAdapter, customerID int64) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	err := a.db.QueryRow(a.dialect.rebind(`SELECT balance FROM wallets WHERE customer_id = ?`), customerID).Scan(&balance)
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	return balance
}

func TestSQL_PlaceOrder(t *testing.T) {
	adapter := openSQL(t)
	shoppers := loadRush(t, adapter, RushPlan{
		Shoppers: 1, Quantity: 2, Price: decimal.NewFromInt(100), Stock: 5, Balance: decimal.NewFromInt(300),
	})
	s := shoppers[0]
	variantID := s.CustomerID - 1

	svc := service.NewOrderService(adapter, adapter, zap.NewNop())
	result, err := svc.PlaceOrder(context.Background(), domain.PlaceOrderCommand{
		CustomerID:    s.CustomerID,
		AddressID:     s.AddressID,
		PaymentMethod: domain.PaymentMethodWallet,
		CartItemIDs:   []int64{s.CartItemID},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if !result.TotalPrice.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected total 200, got %s", result.TotalPrice)
	}
	if got := balanceOf(t, adapter, s.CustomerID); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance 100, got %s", got)
	}
	if got := stockOf(t, adapter, variantID); got != 3 {
		t.Errorf("expected stock 3, got %d", got)
	}

	ctx := context.Background()
	items, err := adapter.ListOrderItems(ctx, result.OrderID)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 order item, got %d (%v)", len(items), err)
	}
	if !items[0].Price.Equal(decimal.NewFromInt(100)) || items[0].Quantity != 2 {
		t.Errorf("unexpected order item %+v", items[0])
	}
	payment, err := adapter.GetPayment(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSuccess || !payment.Amount.Equal(result.TotalPrice) {
		t.Errorf("unexpected payment %+v", payment)
	}

	pending, err := adapter.FetchPendingEvents(ctx, 1000)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	found := false
	for _, e := range pending {
		if e.Key == result.OrderID {
			found = true
		}
	}
	if !found {
		t.Error("expected an outbox event for the order")
	}
}

func TestSQL_InsufficientFundsChangesNothing(t *testing.T) {
	adapter := openSQL(t)
	shoppers := loadRush(t, adapter, RushPlan{
		Shoppers: 1, Quantity: 2, Price: decimal.NewFromInt(100), Stock: 5, Balance: decimal.NewFromInt(150),
	})
	s := shoppers[0]

	svc := service.NewOrderService(adapter, adapter, zap.NewNop())
	_, err := svc.PlaceOrder(context.Background(), domain.PlaceOrderCommand{
		CustomerID:    s.CustomerID,
		AddressID:     s.AddressID,
		PaymentMethod: domain.PaymentMethodWallet,
		CartItemIDs:   []int64{s.CartItemID},
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if got := balanceOf(t, adapter, s.CustomerID); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected balance 150, got %s", got)
	}
	if got := stockOf(t, adapter, s.CustomerID-1); got != 5 {
		t.Errorf("expected stock 5, got %d", got)
	}
	orders, _ := adapter.ListOrdersByCustomer(context.Background(), s.CustomerID)
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
}

func TestSQL_ConcurrentPlacementsNoOversell(t *testing.T) {
	adapter := openSQL(t)
	shoppers := loadRush(t, adapter, RushPlan{
		Shoppers: 10, Quantity: 3, Price: decimal.NewFromInt(10), Stock: 5, Balance: decimal.NewFromInt(1000),
	})

	svc := service.NewOrderService(adapter, adapter, zap.NewNop())
	var wg sync.WaitGroup
	var success atomic.Int32
	for _, s := range shoppers {
		wg.Add(1)
		go func(s Shopper) {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), domain.PlaceOrderCommand{
				CustomerID:    s.CustomerID,
				AddressID:     s.AddressID,
				PaymentMethod: domain.PaymentMethodWallet,
				CartItemIDs:   []int64{s.CartItemID},
			})
			if err == nil {
				success.Add(1)
			} else if !errors.Is(err, domain.ErrInsufficientStock) && !domain.IsRetryable(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(s)
	}
	wg.Wait()

	if success.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", success.Load())
	}
	if got := stockOf(t, adapter, shoppers[0].CustomerID-1); got != 2 {
		t.Errorf("expected stock 2, got %d", got)
	}
}

func TestSQL_UncommittedOrderInvisible(t *testing.T) {
	adapter := openSQL(t)
	shoppers := loadRush(t, adapter, RushPlan{
		Shoppers: 1, Quantity: 1, Price: decimal.NewFromInt(10), Stock: 5, Balance: decimal.NewFromInt(100),
	})
	s := shoppers[0]
	orderID := uuid.NewString()

	written := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- adapter.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			now := time.Now().UTC()
			if err := tx.CreateOrder(ctx, domain.Order{
				ID: orderID, CustomerID: s.CustomerID, AddressID: s.AddressID,
				TotalPrice: decimal.NewFromInt(10), Status: domain.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				close(written)
				return err
			}
			close(written)
			<-release
			return errors.New("abort")
		})
	}()

	<-written
	_, err := adapter.GetOrder(context.Background(), orderID)
	close(release)
	<-done

	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected uncommitted order to be invisible, got %v", err)
	}
}
