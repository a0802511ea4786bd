package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	customerID      = int64(1)
	otherCustomerID = int64(2)
	merchantID      = int64(9)
	addressID       = int64(10)
	otherAddressID  = int64(11)
	cartID          = int64(20)
	otherCartID     = int64(21)
	variantID       = int64(40)
	secondVariantID = int64(41)
	cartItemID      = int64(200)
	secondItemID    = int64(202)
	otherItemID     = int64(201)
	walletID        = int64(50)
)

// newStore seeds customer 1 with wallet balance, a cart holding 2 of variant
// 40 (price 100, the given stock) and 1 of variant 41 (price 50, stock 10).
// Customer 2 owns address 11 and cart item 201.
func newStore(t *testing.T, balance int64, stock int) *storage.MemoryAdapter {
	t.Helper()
	now := time.Now().UTC()
	owner, other := customerID, otherCustomerID

	m := storage.NewMemoryAdapter()
	err := m.Load(context.Background(), storage.Catalog{
		Customers: []domain.Customer{
			{ID: customerID, Email: "ada@example.com", Role: domain.RoleCustomer, Status: domain.AccountStatusActive, CreatedAt: now},
			{ID: otherCustomerID, Email: "bob@example.com", Role: domain.RoleCustomer, Status: domain.AccountStatusActive, CreatedAt: now},
			{ID: merchantID, Email: "shop@example.com", Role: domain.RoleMerchant, Status: domain.AccountStatusActive, CreatedAt: now},
		},
		Addresses: []domain.Address{
			{ID: addressID, CustomerID: customerID, Line1: "1 Main St", City: "Springfield", PostalCode: "10001", Country: "US"},
			{ID: otherAddressID, CustomerID: otherCustomerID, Line1: "2 Elm St", City: "Springfield", PostalCode: "10002", Country: "US"},
		},
		Products: []domain.Product{{ID: 30, MerchantID: merchantID, Name: "Desk lamp"}},
		Variants: []domain.ProductVariant{
			{ID: variantID, ProductID: 30, SKU: "LAMP-BLK", Price: decimal.NewFromInt(100), Stock: stock, UpdatedAt: now},
			{ID: secondVariantID, ProductID: 30, SKU: "LAMP-WHT", Price: decimal.NewFromInt(50), Stock: 10, UpdatedAt: now},
		},
		Carts: []domain.Cart{
			{ID: cartID, CustomerID: &owner},
			{ID: otherCartID, CustomerID: &other},
		},
		CartItems: []domain.CartItem{
			{ID: cartItemID, CartID: cartID, VariantID: variantID, Quantity: 2},
			{ID: secondItemID, CartID: cartID, VariantID: secondVariantID, Quantity: 1},
			{ID: otherItemID, CartID: otherCartID, VariantID: variantID, Quantity: 1},
		},
		Wallets: []domain.Wallet{
			{ID: walletID, CustomerID: customerID, Balance: decimal.NewFromInt(balance), Currency: "USD", UpdatedAt: now},
		},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return m
}

func placeCmd(ids ...int64) domain.PlaceOrderCommand {
	return domain.PlaceOrderCommand{
		CustomerID:    customerID,
		AddressID:     addressID,
		PaymentMethod: domain.PaymentMethodWallet,
		CartItemIDs:   ids,
	}
}

func newService(store *storage.MemoryAdapter, opts ...Option) *OrderService {
	return NewOrderService(store, store, zap.NewNop(), opts...)
}

// wrappedUoW hands fn a decorated Tx.
type wrappedUoW struct {
	inner port.UnitOfWork
	wrap  func(tx port.Tx) port.Tx
}

func (u wrappedUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	return u.inner.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return fn(ctx, u.wrap(tx))
	})
}

// faultyUoW runs the wrapped unit of work with a Tx whose methods call hook
// first. A non-nil hook result fails that call.
type faultyUoW struct {
	inner port.UnitOfWork
	hook  func(ctx context.Context, method string) error
}

func (u faultyUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	return u.inner.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, hook: u.hook})
	})
}

type faultyTx struct {
	port.Tx
	hook func(ctx context.Context, method string) error
}

func (f *faultyTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	if err := f.hook(ctx, "GetCustomer"); err != nil {
		return nil, err
	}
	return f.Tx.GetCustomer(ctx, id)
}

func (f *faultyTx) GetAddress(ctx context.Context, id int64) (*domain.Address, error) {
	if err := f.hook(ctx, "GetAddress"); err != nil {
		return nil, err
	}
	return f.Tx.GetAddress(ctx, id)
}

func (f *faultyTx) FindCartLines(ctx context.Context, ids []int64) ([]domain.CartLine, error) {
	if err := f.hook(ctx, "FindCartLines"); err != nil {
		return nil, err
	}
	return f.Tx.FindCartLines(ctx, ids)
}

func (f *faultyTx) LockWalletByCustomer(ctx context.Context, id int64) (*domain.Wallet, error) {
	if err := f.hook(ctx, "LockWalletByCustomer"); err != nil {
		return nil, err
	}
	return f.Tx.LockWalletByCustomer(ctx, id)
}

func (f *faultyTx) LockWallet(ctx context.Context, id int64) (*domain.Wallet, error) {
	if err := f.hook(ctx, "LockWallet"); err != nil {
		return nil, err
	}
	return f.Tx.LockWallet(ctx, id)
}

func (f *faultyTx) DebitWallet(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	if err := f.hook(ctx, "DebitWallet"); err != nil {
		return false, err
	}
	return f.Tx.DebitWallet(ctx, id, amount)
}

func (f *faultyTx) LockVariant(ctx context.Context, id int64) (*domain.ProductVariant, error) {
	if err := f.hook(ctx, "LockVariant"); err != nil {
		return nil, err
	}
	return f.Tx.LockVariant(ctx, id)
}

func (f *faultyTx) DecrementStock(ctx context.Context, id int64, quantity int) (bool, error) {
	if err := f.hook(ctx, "DecrementStock"); err != nil {
		return false, err
	}
	return f.Tx.DecrementStock(ctx, id, quantity)
}

func (f *faultyTx) CreateOrder(ctx context.Context, order domain.Order) error {
	if err := f.hook(ctx, "CreateOrder"); err != nil {
		return err
	}
	return f.Tx.CreateOrder(ctx, order)
}

func (f *faultyTx) CreatePayment(ctx context.Context, payment domain.Payment) error {
	if err := f.hook(ctx, "CreatePayment"); err != nil {
		return err
	}
	return f.Tx.CreatePayment(ctx, payment)
}

func (f *faultyTx) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	if err := f.hook(ctx, "CreateOrderItems"); err != nil {
		return err
	}
	return f.Tx.CreateOrderItems(ctx, items)
}

func (f *faultyTx) DeleteCartItems(ctx context.Context, ids []int64) (int, error) {
	if err := f.hook(ctx, "DeleteCartItems"); err != nil {
		return 0, err
	}
	return f.Tx.DeleteCartItems(ctx, ids)
}

func (f *faultyTx) InsertOutboxEvent(ctx context.Context, event domain.OutboxEvent) error {
	if err := f.hook(ctx, "InsertOutboxEvent"); err != nil {
		return err
	}
	return f.Tx.InsertOutboxEvent(ctx, event)
}

// recordingObserver collects placement outcomes.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObservePlacement(outcome string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.outcomes) == 0 {
		return ""
	}
	return o.outcomes[len(o.outcomes)-1]
}

// mockIdempotencyStore mirrors the Redis claim semantics in memory.
type mockIdempotencyStore struct {
	mu       sync.Mutex
	keys     map[string]string
	released int
	claimErr error
}

func newMockIdempotencyStore() *mockIdempotencyStore {
	return &mockIdempotencyStore{keys: make(map[string]string)}
}

func (m *mockIdempotencyStore) Claim(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, "", m.claimErr
	}
	if v, ok := m.keys[key]; ok {
		if v == "pending" {
			return false, "", nil
		}
		return false, v, nil
	}
	m.keys[key] = "pending"
	return true, "", nil
}

func (m *mockIdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = orderID
	return nil
}

func (m *mockIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] == "pending" {
		delete(m.keys, key)
		m.released++
	}
	return nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}
