package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PlacementStage is the last state a placement reached.
type PlacementStage string

const (
	StageStarted          PlacementStage = "started"
	StageAddressValidated PlacementStage = "address_validated"
	StageItemsResolved    PlacementStage = "items_resolved"
	StageOrderWritten     PlacementStage = "order_written"
	StageFundsReserved    PlacementStage = "funds_reserved"
	StagePaymentWritten   PlacementStage = "payment_written"
	StageWalletDebited    PlacementStage = "wallet_debited"
	StageItemsWritten     PlacementStage = "items_written"
	StageStockDecremented PlacementStage = "stock_decremented"
	StageCartCleared      PlacementStage = "cart_cleared"
	StageCommitted        PlacementStage = "committed"
	StageRolledBack       PlacementStage = "rolled_back"
)

// MaxCartItems caps the cart items one placement may consume.
const MaxCartItems = 100

type PlaceOrderCommand struct {
	CustomerID     int64
	AddressID      int64
	PaymentMethod  PaymentMethod
	CartItemIDs    []int64
	IdempotencyKey string
}

func (c PlaceOrderCommand) Validate() error {
	if c.CustomerID <= 0 {
		return fmt.Errorf("%w: customer id is required", ErrInvalidRequest)
	}
	if c.AddressID <= 0 {
		return fmt.Errorf("%w: address id is required", ErrInvalidRequest)
	}
	if !c.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, c.PaymentMethod)
	}
	if len(c.CartItemIDs) == 0 {
		return fmt.Errorf("%w: cart item ids are required", ErrInvalidRequest)
	}
	if len(c.CartItemIDs) > MaxCartItems {
		return fmt.Errorf("%w: at most %d cart item ids per order, got %d", ErrInvalidRequest, MaxCartItems, len(c.CartItemIDs))
	}
	for _, id := range c.CartItemIDs {
		if id <= 0 {
			return fmt.Errorf("%w: invalid cart item id %d", ErrInvalidRequest, id)
		}
	}
	return nil
}

type PlacementResult struct {
	OrderID    string
	TotalPrice decimal.Decimal
	Status     OrderStatus
	Replayed   bool
}

// PlacementError carries the stage a failed placement had reached. It unwraps
// to the causing error.
type PlacementError struct {
	Stage PlacementStage
	Err   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place order (after %s): %v", e.Stage, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}
