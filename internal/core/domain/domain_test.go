package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPlaceOrderCommand_Validate(t *testing.T) {
	valid := PlaceOrderCommand{CustomerID: 1, AddressID: 2, PaymentMethod: PaymentMethodWallet, CartItemIDs: []int64{3}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]func(c *PlaceOrderCommand){
		"no customer":     func(c *PlaceOrderCommand) { c.CustomerID = 0 },
		"no address":      func(c *PlaceOrderCommand) { c.AddressID = -1 },
		"unknown method":  func(c *PlaceOrderCommand) { c.PaymentMethod = "CASH" },
		"no items":        func(c *PlaceOrderCommand) { c.CartItemIDs = nil },
		"invalid item id": func(c *PlaceOrderCommand) { c.CartItemIDs = []int64{3, 0} },
		"too many items": func(c *PlaceOrderCommand) {
			c.CartItemIDs = make([]int64, MaxCartItems+1)
			for i := range c.CartItemIDs {
				c.CartItemIDs[i] = int64(i + 1)
			}
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := valid
			cmd.CartItemIDs = append([]int64(nil), valid.CartItemIDs...)
			mutate(&cmd)
			if err := cmd.Validate(); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestWallet_Covers(t *testing.T) {
	w := Wallet{Balance: decimal.RequireFromString("150.00")}
	if !w.Covers(decimal.RequireFromString("150")) {
		t.Error("balance should cover an equal amount")
	}
	if w.Covers(decimal.RequireFromString("150.01")) {
		t.Error("balance should not cover a larger amount")
	}
}

func TestCartLine_Subtotal(t *testing.T) {
	line := CartLine{
		Item:    CartItem{Quantity: 3},
		Variant: ProductVariant{Price: decimal.RequireFromString("19.99")},
	}
	if got := line.Subtotal(); !got.Equal(decimal.RequireFromString("59.97")) {
		t.Errorf("expected 59.97, got %s", got)
	}
}

func TestTotalOf(t *testing.T) {
	items := []OrderItem{
		{Quantity: 2, Price: decimal.RequireFromString("0.10")},
		{Quantity: 1, Price: decimal.RequireFromString("0.20")},
	}
	if got := TotalOf(items); !got.Equal(decimal.RequireFromString("0.40")) {
		t.Errorf("expected 0.40, got %s", got)
	}
	if !TotalOf(nil).IsZero() {
		t.Error("expected zero total for no items")
	}
}

func TestCustomer_CanPlaceOrders(t *testing.T) {
	tests := []struct {
		customer Customer
		want     bool
	}{
		{Customer{Role: RoleCustomer, Status: AccountStatusActive}, true},
		{Customer{Role: RoleCustomer, Status: AccountStatusBlocked}, false},
		{Customer{Role: RoleMerchant, Status: AccountStatusActive}, false},
		{Customer{Role: RoleAdmin, Status: AccountStatusActive}, false},
	}
	for _, tt := range tests {
		if got := tt.customer.CanPlaceOrders(); got != tt.want {
			t.Errorf("%s/%s: expected %v, got %v", tt.customer.Role, tt.customer.Status, tt.want, got)
		}
	}
}

func TestPlacementError(t *testing.T) {
	cause := fmt.Errorf("lock wallet: %w", ErrTransient)
	err := error(&PlacementError{Stage: StageOrderWritten, Err: cause})

	if !errors.Is(err, ErrTransient) {
		t.Error("placement error should unwrap to its cause")
	}
	if !IsRetryable(err) {
		t.Error("transient failures are retryable")
	}
	if IsRetryable(&PlacementError{Stage: StageOrderWritten, Err: ErrInsufficientFunds}) {
		t.Error("insufficient funds is not retryable")
	}

	var perr *PlacementError
	if !errors.As(err, &perr) || perr.Stage != StageOrderWritten {
		t.Errorf("expected stage %s, got %v", StageOrderWritten, err)
	}
}
