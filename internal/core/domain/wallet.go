package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID         int64
	CustomerID int64
	Balance    decimal.Decimal
	Currency   string
	UpdatedAt  time.Time
}

// Covers reports whether the balance is at least amount.
func (w Wallet) Covers(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}
