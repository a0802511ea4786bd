package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// OrderQueryService serves read-only order projections to customers,
// merchants and admins.
type OrderQueryService struct {
	orders port.OrderQueryRepository
	logger *zap.Logger
}

func NewOrderQueryService(orders port.OrderQueryRepository, logger *zap.Logger) *OrderQueryService {
	return &OrderQueryService{orders: orders, logger: logger}
}

func (s *OrderQueryService) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.OrderDetails, error) {
	order, err := s.visibleOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.orders.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items of order %s: %w", orderID, err)
	}

	details := &domain.OrderDetails{Order: *order, Items: items}
	payment, err := s.orders.GetPayment(ctx, orderID)
	switch {
	case err == nil:
		details.Payment = payment
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Error("order without payment", zap.String("order_id", orderID), zap.String("alarm", "data_integrity"))
	default:
		return nil, fmt.Errorf("get payment of order %s: %w", orderID, err)
	}
	return details, nil
}

func (s *OrderQueryService) ListOrderItems(ctx context.Context, actor domain.Actor, orderID string) ([]domain.OrderItem, error) {
	if _, err := s.visibleOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	items, err := s.orders.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items of order %s: %w", orderID, err)
	}
	return items, nil
}

func (s *OrderQueryService) ListCustomerOrders(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: %s cannot list customer orders", domain.ErrForbidden, actor.Role)
	}
	return s.orders.ListOrdersByCustomer(ctx, actor.ID)
}

func (s *OrderQueryService) ListMerchantOrders(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if actor.Role != domain.RoleMerchant {
		return nil, fmt.Errorf("%w: %s cannot list merchant orders", domain.ErrForbidden, actor.Role)
	}
	return s.orders.ListOrdersByMerchant(ctx, actor.ID)
}

func (s *OrderQueryService) ListAllOrders(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Order, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: %s cannot list all orders", domain.ErrForbidden, actor.Role)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.orders.ListOrders(ctx, limit, offset)
}

// visibleOrder loads the order and checks the actor may see it. Customers get
// NotFound for other customers' orders so ids cannot be enumerated.
func (s *OrderQueryService) visibleOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}

	switch actor.Role {
	case domain.RoleAdmin:
		return order, nil
	case domain.RoleCustomer:
		if order.CustomerID != actor.ID {
			return nil, fmt.Errorf("get order %s: %w", orderID, domain.ErrNotFound)
		}
		return order, nil
	case domain.RoleMerchant:
		ok, err := s.orders.OrderHasMerchant(ctx, orderID, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("check merchant of order %s: %w", orderID, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: order %s has no items of merchant %d", domain.ErrForbidden, orderID, actor.ID)
		}
		return order, nil
	}
	return nil, fmt.Errorf("%w: unknown role %q", domain.ErrForbidden, actor.Role)
}
