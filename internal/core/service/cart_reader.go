package service

import (
	"context"
	"fmt"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// CartSnapshotReader resolves cart item ids into priced lines owned by one
// customer. It never writes.
type CartSnapshotReader struct{}

// Resolve returns one line per requested id that exists, in request order.
// Duplicate ids yield duplicate lines.
func (CartSnapshotReader) Resolve(ctx context.Context, tx port.Tx, customerID int64, cartItemIDs []int64) ([]domain.CartLine, error) {
	found, err := tx.FindCartLines(ctx, cartItemIDs)
	if err != nil {
		return nil, fmt.Errorf("find cart lines: %w", err)
	}

	byID := make(map[int64]domain.CartLine, len(found))
	for _, l := range found {
		byID[l.Item.ID] = l
	}

	lines := make([]domain.CartLine, 0, len(cartItemIDs))
	for _, id := range cartItemIDs {
		if l, ok := byID[id]; ok {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no cart items match %v", domain.ErrNotFound, cartItemIDs)
	}

	cartID := lines[0].Cart.ID
	for _, l := range lines {
		if l.Cart.CustomerID == nil {
			return nil, fmt.Errorf("%w: cart %d has no customer", domain.ErrInvalidState, l.Cart.ID)
		}
		if l.Item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: cart item %d has quantity %d", domain.ErrInvalidState, l.Item.ID, l.Item.Quantity)
		}
		if *l.Cart.CustomerID != customerID {
			return nil, fmt.Errorf("%w: cart item %d belongs to another customer", domain.ErrForbidden, l.Item.ID)
		}
		if l.Cart.ID != cartID {
			return nil, fmt.Errorf("%w: cart items span carts %d and %d", domain.ErrForbidden, cartID, l.Cart.ID)
		}
	}

	return lines, nil
}
