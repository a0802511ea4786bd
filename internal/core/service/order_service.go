package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	OutcomePlaced            = "placed"
	OutcomeReplayed          = "replayed"
	OutcomeInvalidRequest    = "invalid_request"
	OutcomeNotFound          = "not_found"
	OutcomeForbidden         = "forbidden"
	OutcomeInvalidState      = "invalid_state"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeConflict          = "conflict"
	OutcomeTransient         = "transient"
	OutcomeDuplicate         = "duplicate_request"
	OutcomeError             = "error"
)

type OrderService struct {
	uow       port.UnitOfWork
	orders    port.OrderQueryRepository
	idem      port.IdempotencyStore
	observer  port.PlacementObserver
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	cart      CartSnapshotReader
	wallets   WalletLedger
	inventory InventoryLedger
}

type Option func(*OrderService)

// WithIdempotency enables Idempotency-Key handling.
func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *OrderService) { s.idem = store }
}

func WithObserver(o port.PlacementObserver) Option {
	return func(s *OrderService) { s.observer = o }
}

// WithTimeout bounds each placement transaction.
func WithTimeout(d time.Duration) Option {
	return func(s *OrderService) { s.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

// WithIDGenerator replaces the generator used for order, payment and
// transaction identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(s *OrderService) { s.newID = gen }
}

func NewOrderService(uow port.UnitOfWork, orders port.OrderQueryRepository, logger *zap.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		uow:    uow,
		orders: orders,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder turns cart items into an order paid from the customer's wallet.
// Either every write commits together or none does.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd domain.PlaceOrderCommand) (*domain.PlacementResult, error) {
	start := time.Now()

	if err := cmd.Validate(); err != nil {
		s.observe(OutcomeInvalidRequest, start)
		return nil, err
	}

	idemKey := ""
	if s.idem != nil && cmd.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("placement:%d:%s", cmd.CustomerID, cmd.IdempotencyKey)

		claimed, orderID, err := s.idem.Claim(ctx, idemKey)
		if err != nil {
			s.observe(OutcomeTransient, start)
			return nil, fmt.Errorf("%w: idempotency check failed: %w", domain.ErrTransient, err)
		}
		if !claimed {
			return s.replay(ctx, cmd, orderID, start)
		}
	}

	txCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		result *domain.PlacementResult
		stage  = domain.StageStarted
	)
	err := s.uow.WithinTx(txCtx, func(ctx context.Context, tx port.Tx) error {
		var err error
		result, stage, err = s.placeOrder(ctx, tx, cmd)
		return err
	})
	if err != nil {
		if stage == domain.StageCommitted {
			stage = domain.StageCartCleared
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTransient) {
			err = fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		if idemKey != "" {
			if relErr := s.idem.Release(context.WithoutCancel(ctx), idemKey); relErr != nil {
				s.logger.Warn("release idempotency key", zap.String("key", idemKey), zap.Error(relErr))
			}
		}
		s.logFailure(cmd, stage, err)
		s.observe(outcomeOf(err), start)
		return nil, &domain.PlacementError{Stage: stage, Err: err}
	}

	if idemKey != "" {
		if err := s.idem.Complete(context.WithoutCancel(ctx), idemKey, result.OrderID); err != nil {
			s.logger.Warn("complete idempotency key", zap.String("key", idemKey), zap.Error(err))
		}
	}

	s.logger.Info("order placed",
		zap.String("order_id", result.OrderID),
		zap.Int64("customer_id", cmd.CustomerID),
		zap.String("total", result.TotalPrice.StringFixed(2)),
		zap.Int("lines", len(cmd.CartItemIDs)),
	)
	s.observe(OutcomePlaced, start)
	return result, nil
}

// placeOrder is the transaction script. It returns the last stage it
// completed so a failure can be reported against it.
func (s *OrderService) placeOrder(ctx context.Context, tx port.Tx, cmd domain.PlaceOrderCommand) (*domain.PlacementResult, domain.PlacementStage, error) {
	stage := domain.StageStarted

	customer, err := tx.GetCustomer(ctx, cmd.CustomerID)
	if err != nil {
		return nil, stage, fmt.Errorf("load customer %d: %w", cmd.CustomerID, err)
	}
	if !customer.CanPlaceOrders() {
		return nil, stage, fmt.Errorf("%w: customer %d (%s, %s) cannot place orders", domain.ErrForbidden, customer.ID, customer.Role, customer.Status)
	}

	address, err := tx.GetAddress(ctx, cmd.AddressID)
	if err != nil {
		return nil, stage, fmt.Errorf("load address %d: %w", cmd.AddressID, err)
	}
	if address.CustomerID != customer.ID {
		return nil, stage, fmt.Errorf("%w: address %d belongs to another customer", domain.ErrForbidden, address.ID)
	}
	stage = domain.StageAddressValidated

	lines, err := s.cart.Resolve(ctx, tx, customer.ID, cmd.CartItemIDs)
	if err != nil {
		return nil, stage, err
	}
	stage = domain.StageItemsResolved

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}

	now := s.now()
	order := domain.Order{
		ID:         s.newID(),
		CustomerID: customer.ID,
		AddressID:  address.ID,
		TotalPrice: total,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, stage, fmt.Errorf("create order: %w", err)
	}
	stage = domain.StageOrderWritten

	wallet, err := s.wallets.LockAndVerify(ctx, tx, customer.ID, total)
	if err != nil {
		return nil, stage, err
	}
	stage = domain.StageFundsReserved

	payment := domain.Payment{
		ID:            s.newID(),
		OrderID:       order.ID,
		Amount:        total,
		Method:        cmd.PaymentMethod,
		Status:        domain.PaymentStatusSuccess,
		TransactionID: s.newID(),
		CreatedAt:     now,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, stage, fmt.Errorf("create payment: %w", err)
	}
	stage = domain.StagePaymentWritten

	if err := s.wallets.Debit(ctx, tx, wallet.ID, total); err != nil {
		return nil, stage, err
	}
	stage = domain.StageWalletDebited

	// Fail fast on the snapshot before taking any variant lock.
	for _, l := range lines {
		if l.Item.Quantity > l.Variant.Stock {
			return nil, stage, fmt.Errorf("%w: variant %d has %d, cart item %d wants %d",
				domain.ErrInsufficientStock, l.Variant.ID, l.Variant.Stock, l.Item.ID, l.Item.Quantity)
		}
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.OrderItem{
			OrderID:   order.ID,
			VariantID: l.Variant.ID,
			Quantity:  l.Item.Quantity,
			Price:     l.Variant.Price,
		})
	}
	if err := tx.CreateOrderItems(ctx, items); err != nil {
		return nil, stage, fmt.Errorf("create order items: %w", err)
	}
	stage = domain.StageItemsWritten

	if err := s.inventory.DecrementLines(ctx, tx, lines); err != nil {
		return nil, stage, err
	}
	stage = domain.StageStockDecremented

	consumed := distinct(cmd.CartItemIDs, lines)
	deleted, err := tx.DeleteCartItems(ctx, consumed)
	if err != nil {
		return nil, stage, fmt.Errorf("delete cart items: %w", err)
	}
	if deleted != len(consumed) {
		return nil, stage, fmt.Errorf("%w: %d of %d cart items already consumed", domain.ErrNotFound, len(consumed)-deleted, len(consumed))
	}
	stage = domain.StageCartCleared

	event, err := orderPlacedEvent(s.newID(), order, items)
	if err != nil {
		return nil, stage, err
	}
	if err := tx.InsertOutboxEvent(ctx, event); err != nil {
		return nil, stage, fmt.Errorf("insert outbox event: %w", err)
	}

	return &domain.PlacementResult{
		OrderID:    order.ID,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
	}, domain.StageCommitted, nil
}

func (s *OrderService) replay(ctx context.Context, cmd domain.PlaceOrderCommand, orderID string, start time.Time) (*domain.PlacementResult, error) {
	if orderID == "" {
		s.observe(OutcomeDuplicate, start)
		return nil, fmt.Errorf("%w: placement with key %q is in progress", domain.ErrDuplicateRequest, cmd.IdempotencyKey)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		s.observe(outcomeOf(err), start)
		return nil, fmt.Errorf("load replayed order %s: %w", orderID, err)
	}
	if order.CustomerID != cmd.CustomerID {
		s.observe(OutcomeInvalidState, start)
		return nil, fmt.Errorf("%w: idempotency key maps to order of another customer", domain.ErrInvalidState)
	}

	s.logger.Info("order placement replayed", zap.String("order_id", order.ID), zap.Int64("customer_id", cmd.CustomerID))
	s.observe(OutcomeReplayed, start)
	return &domain.PlacementResult{
		OrderID:    order.ID,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
		Replayed:   true,
	}, nil
}

func (s *OrderService) logFailure(cmd domain.PlaceOrderCommand, stage domain.PlacementStage, err error) {
	fields := []zap.Field{
		zap.Int64("customer_id", cmd.CustomerID),
		zap.Int64("address_id", cmd.AddressID),
		zap.String("stage", string(stage)),
		zap.String("state", string(domain.StageRolledBack)),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		s.logger.Error("order placement rolled back", append(fields, zap.String("alarm", "data_integrity"))...)
	case domain.IsRetryable(err):
		s.logger.Warn("order placement rolled back", append(fields, zap.Bool("retryable", true))...)
	default:
		s.logger.Warn("order placement rolled back", fields...)
	}
}

func (s *OrderService) observe(outcome string, start time.Time) {
	if s.observer != nil {
		s.observer.ObservePlacement(outcome, time.Since(start))
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return OutcomeInvalidRequest
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, domain.ErrInvalidState):
		return OutcomeInvalidState
	case errors.Is(err, domain.ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, domain.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, domain.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, domain.ErrTransient):
		return OutcomeTransient
	case errors.Is(err, domain.ErrDuplicateRequest):
		return OutcomeDuplicate
	}
	return OutcomeError
}

// distinct returns the requested ids that resolved, each once.
func distinct(requested []int64, lines []domain.CartLine) []int64 {
	resolved := make(map[int64]bool, len(lines))
	for _, l := range lines {
		resolved[l.Item.ID] = true
	}
	seen := make(map[int64]bool, len(requested))
	out := make([]int64, 0, len(resolved))
	for _, id := range requested {
		if resolved[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func orderPlacedEvent(eventID string, order domain.Order, items []domain.OrderItem) (domain.OutboxEvent, error) {
	entries := make([]domain.OrderPlacedItemEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, domain.OrderPlacedItemEntry{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
		})
	}
	payload, err := json.Marshal(domain.OrderPlacedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		AddressID:  order.AddressID,
		TotalPrice: order.TotalPrice.StringFixed(2),
		Items:      entries,
		PlacedAt:   order.CreatedAt,
	})
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("marshal order placed payload: %w", err)
	}
	return domain.OutboxEvent{
		EventID:   eventID,
		Type:      domain.EventOrderPlaced,
		Key:       order.ID,
		Payload:   payload,
		CreatedAt: order.CreatedAt,
	}, nil
}
