package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         int64
	MerchantID int64
	Name       string
}

type ProductVariant struct {
	ID        int64
	ProductID int64
	SKU       string
	Price     decimal.Decimal
	Stock     int
	UpdatedAt time.Time
}

type Cart struct {
	ID         int64
	CustomerID *int64 // nil only on corrupt rows
}

type CartItem struct {
	ID        int64
	CartID    int64
	VariantID int64
	Quantity  int
}

// CartLine is a cart item resolved against its cart and variant at read time.
// Variant.Stock is advisory: it was read without a lock.
type CartLine struct {
	Item    CartItem
	Cart    Cart
	Variant ProductVariant
}

// Subtotal returns quantity * unit price.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Variant.Price.Mul(decimal.NewFromInt(int64(l.Item.Quantity)))
}
