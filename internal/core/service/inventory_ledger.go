package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type InventoryLedger struct{}

// LockAndDecrement locks the variant row, re-reads its stock and takes
// quantity from it. Any stock value read before the lock is ignored.
func (InventoryLedger) LockAndDecrement(ctx context.Context, tx port.Tx, variantID int64, quantity int) error {
	v, err := tx.LockVariant(ctx, variantID)
	if err != nil {
		return fmt.Errorf("lock variant %d: %w", variantID, err)
	}
	if quantity > v.Stock {
		return fmt.Errorf("%w: variant %d has %d, need %d", domain.ErrInsufficientStock, variantID, v.Stock, quantity)
	}

	ok, err := tx.DecrementStock(ctx, variantID, quantity)
	if err != nil {
		return fmt.Errorf("decrement variant %d: %w", variantID, err)
	}
	if !ok {
		return fmt.Errorf("%w: variant %d rejected decrement of %d", domain.ErrInsufficientStock, variantID, quantity)
	}
	return nil
}

// DecrementLines decrements every line in ascending variant id order, so two
// orders sharing variants always lock them in the same sequence.
func (l InventoryLedger) DecrementLines(ctx context.Context, tx port.Tx, lines []domain.CartLine) error {
	ordered := make([]domain.CartLine, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Variant.ID < ordered[j].Variant.ID
	})

	for _, line := range ordered {
		if err := l.LockAndDecrement(ctx, tx, line.Variant.ID, line.Item.Quantity); err != nil {
			return err
		}
	}
	return nil
}
