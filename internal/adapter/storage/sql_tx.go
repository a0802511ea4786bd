package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// sqlTx implements port.Tx on one database/sql transaction. Locking reads use
// SELECT ... FOR UPDATE, so locks last until commit or rollback.
type sqlTx struct {
	q querier
	d Dialect
}

func (t *sqlTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, email, role, status, created_at
		FROM customers WHERE id = ?`), id,
	).Scan(&c.ID, &c.Email, &c.Role, &c.Status, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: customer %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", classify(err))
	}
	return &c, nil
}

func (t *sqlTx) GetAddress(ctx context.Context, id int64) (*domain.Address, error) {
	var a domain.Address
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, customer_id, line1, city, postal_code, country
		FROM addresses WHERE id = ?`), id,
	).Scan(&a.ID, &a.CustomerID, &a.Line1, &a.City, &a.PostalCode, &a.Country)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: address %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %w", classify(err))
	}
	return &a, nil
}

func (t *sqlTx) FindCartLines(ctx context.Context, cartItemIDs []int64) ([]domain.CartLine, error) {
	if len(cartItemIDs) == 0 {
		return nil, nil
	}

	args := make([]any, len(cartItemIDs))
	for i, id := range cartItemIDs {
		args[i] = id
	}

	rows, err := t.q.QueryContext(ctx, t.d.rebind(`
		SELECT ci.id, ci.cart_id, ci.variant_id, ci.quantity,
		       c.id, c.customer_id,
		       v.id, v.product_id, v.sku, v.price, v.stock, v.updated_at
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		JOIN product_variants v ON v.id = ci.variant_id
		WHERE ci.id IN (`+placeholders(len(args))+`)
		ORDER BY ci.id`), args...)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", classify(err))
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var (
			l          domain.CartLine
			customerID sql.NullInt64
		)
		if err := rows.Scan(
			&l.Item.ID, &l.Item.CartID, &l.Item.VariantID, &l.Item.Quantity,
			&l.Cart.ID, &customerID,
			&l.Variant.ID, &l.Variant.ProductID, &l.Variant.SKU, &l.Variant.Price, &l.Variant.Stock, &l.Variant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if customerID.Valid {
			id := customerID.Int64
			l.Cart.CustomerID = &id
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *sqlTx) LockWalletByCustomer(ctx context.Context, customerID int64) (*domain.Wallet, error) {
	w, err := t.lockWallet(ctx, `customer_id = ?`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet of customer %d", domain.ErrNotFound, customerID)
	}
	return w, err
}

func (t *sqlTx) LockWallet(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	w, err := t.lockWallet(ctx, `id = ?`, walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %d", domain.ErrNotFound, walletID)
	}
	return w, err
}

func (t *sqlTx) lockWallet(ctx context.Context, where string, arg int64) (*domain.Wallet, error) {
	var w domain.Wallet
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, customer_id, balance, currency, updated_at
		FROM wallets WHERE `+where+` FOR UPDATE`), arg,
	).Scan(&w.ID, &w.CustomerID, &w.Balance, &w.Currency, &w.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", classify(err))
	}
	w.Currency = strings.TrimSpace(w.Currency)
	return &w, nil
}

func (t *sqlTx) DebitWallet(ctx context.Context, walletID int64, amount decimal.Decimal) (bool, error) {
	result, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE wallets
		SET balance = balance - CAST(? AS DECIMAL(14,2)), updated_at = ?
		WHERE id = ? AND balance >= CAST(? AS DECIMAL(14,2))`),
		amount, time.Now().UTC(), walletID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("debit wallet: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit wallet: %w", err)
	}
	return rows == 1, nil
}

func (t *sqlTx) LockVariant(ctx context.Context, variantID int64) (*domain.ProductVariant, error) {
	var v domain.ProductVariant
	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT id, product_id, sku, price, stock, updated_at
		FROM product_variants WHERE id = ? FOR UPDATE`), variantID,
	).Scan(&v.ID, &v.ProductID, &v.SKU, &v.Price, &v.Stock, &v.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: variant %d", domain.ErrNotFound, variantID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock variant: %w", classify(err))
	}
	return &v, nil
}

func (t *sqlTx) DecrementStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	result, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE product_variants
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`),
		quantity, time.Now().UTC(), variantID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return rows == 1, nil
}

func (t *sqlTx) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO orders (id, customer_id, address_id, total_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.CustomerID, order.AddressID, order.TotalPrice, string(order.Status),
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", classify(err))
	}
	return nil
}

func (t *sqlTx) CreatePayment(ctx context.Context, p domain.Payment) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO payments (id, order_id, amount, method, status, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.OrderID, p.Amount, string(p.Method), string(p.Status), p.TransactionID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", classify(err))
	}
	return nil
}

func (t *sqlTx) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*4)
	for _, it := range items {
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, it.OrderID, it.VariantID, it.Quantity, it.Price)
	}

	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO order_items (order_id, variant_id, quantity, price)
		VALUES `+strings.Join(values, ", ")), args...)
	if err != nil {
		return fmt.Errorf("insert order items: %w", classify(err))
	}
	return nil
}

func (t *sqlTx) DeleteCartItems(ctx context.Context, cartItemIDs []int64) (int, error) {
	if len(cartItemIDs) == 0 {
		return 0, nil
	}

	args := make([]any, len(cartItemIDs))
	for i, id := range cartItemIDs {
		args[i] = id
	}

	result, err := t.q.ExecContext(ctx, t.d.rebind(`
		DELETE FROM cart_items WHERE id IN (`+placeholders(len(args))+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("delete cart items: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete cart items: %w", err)
	}
	return int(rows), nil
}

func (t *sqlTx) InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO outbox_events (event_id, event_type, event_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		e.EventID, e.Type, e.Key, string(e.Payload), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", classify(err))
	}
	return nil
}
