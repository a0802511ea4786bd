package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// UnitOfWork runs fn inside one storage transaction. The transaction commits
// only if fn returns nil; any error (or panic) rolls everything back.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view of storage used by order placement. Locks taken
// through it are held until the unit of work ends.
type Tx interface {
	// GetCustomer returns domain.ErrNotFound if the customer does not exist
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)

	// GetAddress returns domain.ErrNotFound if the address does not exist
	GetAddress(ctx context.Context, id int64) (*domain.Address, error)

	// FindCartLines resolves cart items joined with their cart and variant,
	// one line per distinct existing id; missing ids are skipped
	FindCartLines(ctx context.Context, cartItemIDs []int64) ([]domain.CartLine, error)

	// LockWalletByCustomer reads the customer's wallet with an exclusive row lock
	LockWalletByCustomer(ctx context.Context, customerID int64) (*domain.Wallet, error)

	// LockWallet re-reads a wallet by id with an exclusive row lock
	LockWallet(ctx context.Context, walletID int64) (*domain.Wallet, error)

	// DebitWallet subtracts amount, returns false if it would go negative
	DebitWallet(ctx context.Context, walletID int64, amount decimal.Decimal) (bool, error)

	// LockVariant reads a variant with an exclusive row lock
	LockVariant(ctx context.Context, variantID int64) (*domain.ProductVariant, error)

	// DecrementStock subtracts quantity, returns false if it would go negative
	DecrementStock(ctx context.Context, variantID int64, quantity int) (bool, error)

	CreateOrder(ctx context.Context, order domain.Order) error

	// CreatePayment returns domain.ErrConflict on a duplicate transaction id
	CreatePayment(ctx context.Context, payment domain.Payment) error

	// CreateOrderItems writes all items in one batch
	CreateOrderItems(ctx context.Context, items []domain.OrderItem) error

	// DeleteCartItems returns the number of rows removed
	DeleteCartItems(ctx context.Context, cartItemIDs []int64) (int, error)

	InsertOutboxEvent(ctx context.Context, event domain.OutboxEvent) error
}

// OrderQueryRepository serves read-only order projections outside any
// placement transaction.
type OrderQueryRepository interface {
	// GetOrder returns domain.ErrNotFound if the order does not exist
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)

	// GetPayment returns domain.ErrNotFound if no payment exists for the order
	GetPayment(ctx context.Context, orderID string) (*domain.Payment, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error)
	ListOrdersByMerchant(ctx context.Context, merchantID int64) ([]domain.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error)

	// OrderHasMerchant reports whether any item of the order belongs to the merchant
	OrderHasMerchant(ctx context.Context, orderID string, merchantID int64) (bool, error)
}

// OutboxRepository is consumed by the relay.
type OutboxRepository interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkEventSent(ctx context.Context, id int64) error
}
