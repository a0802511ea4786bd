package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	ID         string
	CustomerID int64
	AddressID  int64
	TotalPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem is the price and quantity of a variant as it was when the order
// was placed.
type OrderItem struct {
	ID        int64
	OrderID   string
	VariantID int64
	Quantity  int
	Price     decimal.Decimal
}

type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

type PaymentMethod string

const (
	PaymentMethodWallet       PaymentMethod = "WALLET"
	PaymentMethodCardOnFile   PaymentMethod = "CARD_ON_FILE"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodWallet, PaymentMethodCardOnFile, PaymentMethodBankTransfer:
		return true
	}
	return false
}

type Payment struct {
	ID            string
	OrderID       string
	Amount        decimal.Decimal
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	CreatedAt     time.Time
}

// OrderDetails is an order with everything written alongside it.
type OrderDetails struct {
	Order   Order
	Items   []OrderItem
	Payment *Payment
}

// TotalOf sums price * quantity over items.
func TotalOf(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
