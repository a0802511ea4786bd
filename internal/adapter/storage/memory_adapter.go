package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// MemoryAdapter keeps all rows in process. Units of work are serialized and
// run against a private copy of the state that replaces the shared state only
// on commit, so rolled-back work is never visible.
type MemoryAdapter struct {
	mu     sync.RWMutex
	writer chan struct{} // held by the running unit of work or direct write
	state  *memState
}

type memState struct {
	customers  map[int64]domain.Customer
	addresses  map[int64]domain.Address
	products   map[int64]domain.Product
	variants   map[int64]domain.ProductVariant
	carts      map[int64]domain.Cart
	cartItems  map[int64]domain.CartItem
	wallets    map[int64]domain.Wallet
	orders     map[string]domain.Order
	orderItems []domain.OrderItem
	payments   map[string]domain.Payment
	txnIDs     map[string]bool
	outbox     []domain.OutboxEvent
	nextItemID int64
	nextEvent  int64
}

// MemorySnapshot is an opaque copy of every row, comparable with
// reflect.DeepEqual.
type MemorySnapshot struct {
	state *memState
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{writer: make(chan struct{}, 1), state: &memState{
		customers: make(map[int64]domain.Customer),
		addresses: make(map[int64]domain.Address),
		products:  make(map[int64]domain.Product),
		variants:  make(map[int64]domain.ProductVariant),
		carts:     make(map[int64]domain.Cart),
		cartItems: make(map[int64]domain.CartItem),
		wallets:   make(map[int64]domain.Wallet),
		orders:    make(map[string]domain.Order),
		payments:  make(map[string]domain.Payment),
		txnIDs:    make(map[string]bool),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		customers:  make(map[int64]domain.Customer, len(s.customers)),
		addresses:  make(map[int64]domain.Address, len(s.addresses)),
		products:   make(map[int64]domain.Product, len(s.products)),
		variants:   make(map[int64]domain.ProductVariant, len(s.variants)),
		carts:      make(map[int64]domain.Cart, len(s.carts)),
		cartItems:  make(map[int64]domain.CartItem, len(s.cartItems)),
		wallets:    make(map[int64]domain.Wallet, len(s.wallets)),
		orders:     make(map[string]domain.Order, len(s.orders)),
		orderItems: append([]domain.OrderItem(nil), s.orderItems...),
		payments:   make(map[string]domain.Payment, len(s.payments)),
		txnIDs:     make(map[string]bool, len(s.txnIDs)),
		outbox:     append([]domain.OutboxEvent(nil), s.outbox...),
		nextItemID: s.nextItemID,
		nextEvent:  s.nextEvent,
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.txnIDs {
		c.txnIDs[k] = v
	}
	return c
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}

	// Waiting for the running unit of work is bounded by ctx, like a
	// lock-wait timeout on a database.
	select {
	case m.writer <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("begin tx: %w", classify(ctx.Err()))
	}
	defer func() { <-m.writer }()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(ctx, &memTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

// lockWrite serializes a direct write with units of work.
func (m *MemoryAdapter) lockWrite() {
	m.writer <- struct{}{}
	m.mu.Lock()
}

func (m *MemoryAdapter) unlockWrite() {
	m.mu.Unlock()
	<-m.writer
}

// Dump copies the current committed state.
func (m *MemoryAdapter) Dump() MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MemorySnapshot{state: m.state.clone()}
}

// Seeding and inspection. These stand in for the catalog, cart and wallet
// flows that live outside the checkout core.

func (m *MemoryAdapter) PutCustomer(c domain.Customer) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.customers[c.ID] = c
}

func (m *MemoryAdapter) PutAddress(a domain.Address) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.addresses[a.ID] = a
}

func (m *MemoryAdapter) PutProduct(p domain.Product) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.products[p.ID] = p
}

func (m *MemoryAdapter) PutVariant(v domain.ProductVariant) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.variants[v.ID] = v
}

func (m *MemoryAdapter) PutCart(c domain.Cart) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.carts[c.ID] = c
}

func (m *MemoryAdapter) PutCartItem(ci domain.CartItem) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.cartItems[ci.ID] = ci
}

func (m *MemoryAdapter) PutWallet(w domain.Wallet) {
	m.lockWrite()
	defer m.unlockWrite()
	m.state.wallets[w.ID] = w
}

// SetVariantPrice changes the catalog price of a variant.
func (m *MemoryAdapter) SetVariantPrice(variantID int64, price decimal.Decimal) error {
	m.lockWrite()
	defer m.unlockWrite()
	v, ok := m.state.variants[variantID]
	if !ok {
		return fmt.Errorf("%w: variant %d", domain.ErrNotFound, variantID)
	}
	v.Price = price
	m.state.variants[variantID] = v
	return nil
}

func (m *MemoryAdapter) Variant(id int64) (domain.ProductVariant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state.variants[id]
	return v, ok
}

func (m *MemoryAdapter) WalletOf(customerID int64) (domain.Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.state.wallets {
		if w.CustomerID == customerID {
			return w, true
		}
	}
	return domain.Wallet{}, false
}

func (m *MemoryAdapter) HasCartItem(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.state.cartItems[id]
	return ok
}

func (m *MemoryAdapter) CountOrders() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.orders)
}

// OrderQueryRepository

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.state.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return &o, nil
}

func (m *MemoryAdapter) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []domain.OrderItem
	for _, it := range m.state.orderItems {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	return items, nil
}

func (m *MemoryAdapter) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.state.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: payment of order %s", domain.ErrNotFound, orderID)
	}
	return &p, nil
}

func (m *MemoryAdapter) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return o.CustomerID == customerID }), nil
}

func (m *MemoryAdapter) ListOrdersByMerchant(ctx context.Context, merchantID int64) ([]domain.Order, error) {
	m.mu.RLock()
	matched := make(map[string]bool)
	for _, it := range m.state.orderItems {
		if m.state.merchantOf(it.VariantID) == merchantID {
			matched[it.OrderID] = true
		}
	}
	m.mu.RUnlock()
	return m.listOrders(func(o domain.Order) bool { return matched[o.ID] }), nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	all := m.listOrders(func(domain.Order) bool { return true })
	if offset >= len(all) {
		return []domain.Order{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryAdapter) OrderHasMerchant(ctx context.Context, orderID string, merchantID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.state.orderItems {
		if it.OrderID == orderID && m.state.merchantOf(it.VariantID) == merchantID {
			return true, nil
		}
	}
	return false, nil
}

// listOrders returns matching orders newest first.
func (m *MemoryAdapter) listOrders(match func(domain.Order) bool) []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range m.state.orders {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memState) merchantOf(variantID int64) int64 {
	v, ok := s.variants[variantID]
	if !ok {
		return 0
	}
	return s.products[v.ProductID].MerchantID
}

// OutboxRepository

func (m *MemoryAdapter) FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.OutboxEvent
	for _, e := range m.state.outbox {
		if e.SentAt == nil {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryAdapter) MarkEventSent(ctx context.Context, id int64) error {
	m.lockWrite()
	defer m.unlockWrite()
	for i, e := range m.state.outbox {
		if e.ID == id {
			now := time.Now().UTC()
			m.state.outbox[i].SentAt = &now
			return nil
		}
	}
	return fmt.Errorf("%w: outbox event %d", domain.ErrNotFound, id)
}

// memTx works on a private copy of the state. The adapter lock held by
// WithinTx stands in for row locks.
type memTx struct {
	state *memState
}

func (t *memTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	c, ok := t.state.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: customer %d", domain.ErrNotFound, id)
	}
	return &c, nil
}

func (t *memTx) GetAddress(ctx context.Context, id int64) (*domain.Address, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	a, ok := t.state.addresses[id]
	if !ok {
		return nil, fmt.Errorf("%w: address %d", domain.ErrNotFound, id)
	}
	return &a, nil
}

func (t *memTx) FindCartLines(ctx context.Context, cartItemIDs []int64) ([]domain.CartLine, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(cartItemIDs))
	var lines []domain.CartLine
	for _, id := range cartItemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		item, ok := t.state.cartItems[id]
		if !ok {
			continue
		}
		cart, ok := t.state.carts[item.CartID]
		if !ok {
			continue
		}
		variant, ok := t.state.variants[item.VariantID]
		if !ok {
			continue
		}
		lines = append(lines, domain.CartLine{Item: item, Cart: cart, Variant: variant})
	}
	return lines, nil
}

func (t *memTx) LockWalletByCustomer(ctx context.Context, customerID int64) (*domain.Wallet, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	for _, w := range t.state.wallets {
		if w.CustomerID == customerID {
			return &w, nil
		}
	}
	return nil, fmt.Errorf("%w: wallet of customer %d", domain.ErrNotFound, customerID)
}

func (t *memTx) LockWallet(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	w, ok := t.state.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %d", domain.ErrNotFound, walletID)
	}
	return &w, nil
}

func (t *memTx) DebitWallet(ctx context.Context, walletID int64, amount decimal.Decimal) (bool, error) {
	if err := live(ctx); err != nil {
		return false, err
	}
	w, ok := t.state.wallets[walletID]
	if !ok || w.Balance.LessThan(amount) {
		return false, nil
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	t.state.wallets[walletID] = w
	return true, nil
}

func (t *memTx) LockVariant(ctx context.Context, variantID int64) (*domain.ProductVariant, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	v, ok := t.state.variants[variantID]
	if !ok {
		return nil, fmt.Errorf("%w: variant %d", domain.ErrNotFound, variantID)
	}
	return &v, nil
}

func (t *memTx) DecrementStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	if err := live(ctx); err != nil {
		return false, err
	}
	v, ok := t.state.variants[variantID]
	if !ok || v.Stock < quantity {
		return false, nil
	}
	v.Stock -= quantity
	v.UpdatedAt = time.Now().UTC()
	t.state.variants[variantID] = v
	return true, nil
}

func (t *memTx) CreateOrder(ctx context.Context, order domain.Order) error {
	if err := live(ctx); err != nil {
		return err
	}
	if _, ok := t.state.orders[order.ID]; ok {
		return fmt.Errorf("%w: order %s exists", domain.ErrConflict, order.ID)
	}
	t.state.orders[order.ID] = order
	return nil
}

func (t *memTx) CreatePayment(ctx context.Context, payment domain.Payment) error {
	if err := live(ctx); err != nil {
		return err
	}
	if t.state.txnIDs[payment.TransactionID] {
		return fmt.Errorf("%w: transaction id %s exists", domain.ErrConflict, payment.TransactionID)
	}
	if _, ok := t.state.payments[payment.OrderID]; ok {
		return fmt.Errorf("%w: order %s already paid", domain.ErrConflict, payment.OrderID)
	}
	t.state.txnIDs[payment.TransactionID] = true
	t.state.payments[payment.OrderID] = payment
	return nil
}

func (t *memTx) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	if err := live(ctx); err != nil {
		return err
	}
	for _, it := range items {
		t.state.nextItemID++
		it.ID = t.state.nextItemID
		t.state.orderItems = append(t.state.orderItems, it)
	}
	return nil
}

func (t *memTx) DeleteCartItems(ctx context.Context, cartItemIDs []int64) (int, error) {
	if err := live(ctx); err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range cartItemIDs {
		if _, ok := t.state.cartItems[id]; ok {
			delete(t.state.cartItems, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) InsertOutboxEvent(ctx context.Context, event domain.OutboxEvent) error {
	if err := live(ctx); err != nil {
		return err
	}
	for _, e := range t.state.outbox {
		if e.EventID == event.EventID {
			return fmt.Errorf("%w: event %s exists", domain.ErrConflict, event.EventID)
		}
	}
	t.state.nextEvent++
	event.ID = t.state.nextEvent
	t.state.outbox = append(t.state.outbox, event)
	return nil
}

func live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	return nil
}
