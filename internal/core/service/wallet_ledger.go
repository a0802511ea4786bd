package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type WalletLedger struct{}

// LockAndVerify locks the customer's wallet for the rest of the transaction
// and checks it covers amount.
func (WalletLedger) LockAndVerify(ctx context.Context, tx port.Tx, customerID int64, amount decimal.Decimal) (*domain.Wallet, error) {
	w, err := tx.LockWalletByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet of customer %d: %w", customerID, err)
	}
	if !w.Covers(amount) {
		return nil, fmt.Errorf("%w: wallet %d holds %s, need %s", domain.ErrInsufficientFunds, w.ID, w.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return w, nil
}

// Debit must run in the transaction that called LockAndVerify. The balance is
// re-read under that lock and checked again before the write.
func (WalletLedger) Debit(ctx context.Context, tx port.Tx, walletID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative debit %s", domain.ErrInvalidState, amount)
	}

	w, err := tx.LockWallet(ctx, walletID)
	if err != nil {
		return fmt.Errorf("relock wallet %d: %w", walletID, err)
	}
	if !w.Covers(amount) {
		return fmt.Errorf("%w: wallet %d holds %s, need %s", domain.ErrInsufficientFunds, w.ID, w.Balance.StringFixed(2), amount.StringFixed(2))
	}

	if amount.IsZero() {
		return nil
	}

	ok, err := tx.DebitWallet(ctx, walletID, amount)
	if err != nil {
		return fmt.Errorf("debit wallet %d: %w", walletID, err)
	}
	if !ok {
		return fmt.Errorf("%w: wallet %d rejected debit of %s", domain.ErrInsufficientFunds, walletID, amount.StringFixed(2))
	}
	return nil
}
