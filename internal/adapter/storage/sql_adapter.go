package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLAdapter stores checkout data in MySQL or PostgreSQL through
// database/sql.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

// WithinTx runs fn in a READ COMMITTED transaction. Rows written by fn stay
// invisible to other transactions until commit.
func (a *SQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{q: tx, d: a.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

const orderColumns = `o.id, o.customer_id, o.address_id, o.total_price, o.status, o.created_at, o.updated_at`

func (a *SQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := a.db.QueryRowContext(ctx, a.dialect.rebind(`
		SELECT `+orderColumns+`
		FROM orders o WHERE o.id = ?`), orderID)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", classify(err))
	}
	return o, nil
}

func (a *SQLAdapter) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := a.db.QueryContext(ctx, a.dialect.rebind(`
		SELECT id, order_id, variant_id, quantity, price
		FROM order_items WHERE order_id = ? ORDER BY id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", classify(err))
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (a *SQLAdapter) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	var p domain.Payment
	err := a.db.QueryRowContext(ctx, a.dialect.rebind(`
		SELECT id, order_id, amount, method, status, transaction_id, created_at
		FROM payments WHERE order_id = ?`), orderID,
	).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment of order %s", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", classify(err))
	}
	return &p, nil
}

func (a *SQLAdapter) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	return a.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders o WHERE o.customer_id = ?
		ORDER BY o.created_at DESC, o.id`, customerID)
}

func (a *SQLAdapter) ListOrdersByMerchant(ctx context.Context, merchantID int64) ([]domain.Order, error) {
	return a.queryOrders(ctx, `
		SELECT DISTINCT `+orderColumns+`
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN product_variants v ON v.id = oi.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE p.merchant_id = ?
		ORDER BY o.created_at DESC, o.id`, merchantID)
}

func (a *SQLAdapter) ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	return a.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		ORDER BY o.created_at DESC, o.id
		LIMIT ? OFFSET ?`, limit, offset)
}

func (a *SQLAdapter) OrderHasMerchant(ctx context.Context, orderID string, merchantID int64) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx, a.dialect.rebind(`
		SELECT COUNT(*)
		FROM order_items oi
		JOIN product_variants v ON v.id = oi.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE oi.order_id = ? AND p.merchant_id = ?`), orderID, merchantID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query order merchant: %w", classify(err))
	}
	return n > 0, nil
}

func (a *SQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := a.db.QueryContext(ctx, a.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", classify(err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (a *SQLAdapter) FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := a.db.QueryContext(ctx, a.dialect.rebind(`
		SELECT id, event_id, event_type, event_key, payload, created_at, sent_at
		FROM outbox_events WHERE sent_at IS NULL
		ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", classify(err))
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var (
			e       domain.OutboxEvent
			payload []byte
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &e.Key, &payload, &e.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		if sentAt.Valid {
			e.SentAt = &sentAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *SQLAdapter) MarkEventSent(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, a.dialect.rebind(`
		UPDATE outbox_events SET sent_at = ? WHERE id = ?`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox event sent: %w", classify(err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.ID, &o.CustomerID, &o.AddressID, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
