package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	metadataUserID   = "x-user-id"
	metadataUserRole = "x-user-role"
)

type GRPCHandler struct {
	orderService *service.OrderService
	queryService *service.OrderQueryService
	logger       *zap.Logger
}

var _ CheckoutServer = (*GRPCHandler)(nil)

func NewGRPCHandler(orderService *service.OrderService, queryService *service.OrderQueryService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{orderService: orderService, queryService: queryService, logger: logger}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	result, err := h.orderService.PlaceOrder(ctx, domain.PlaceOrderCommand{
		CustomerID:     actor.ID,
		AddressID:      req.AddressID,
		PaymentMethod:  domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		CartItemIDs:    req.CartItemIDs,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return nil, h.statusError(err)
	}

	return &PlaceOrderResponse{
		OrderID:    result.OrderID,
		TotalPrice: result.TotalPrice.StringFixed(2),
		Status:     string(result.Status),
		Replayed:   result.Replayed,
	}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderView, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	details, err := h.queryService.GetOrder(ctx, actor, req.OrderID)
	if err != nil {
		return nil, h.statusError(err)
	}

	view := detailsView(details)
	return &view, nil
}

func (h *GRPCHandler) statusError(err error) error {
	m := mapError(err)
	if m.code == codes.Internal {
		h.logger.Error("rpc failed", zap.Error(err))
	}
	return status.Error(m.code, m.messageFor(err))
}

func actorFromMetadata(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	actor, err := parseActor(first(md.Get(metadataUserID)), first(md.Get(metadataUserRole)))
	if err != nil {
		return domain.Actor{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return actor, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
