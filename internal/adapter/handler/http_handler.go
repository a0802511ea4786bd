package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"
)

// MaxRequestBytes caps a placement request body or message.
const MaxRequestBytes = 64 << 10

var errUnauthenticated = errors.New("missing or invalid caller identity")

type HTTPHandler struct {
	orderService *service.OrderService
	queryService *service.OrderQueryService
	logger       *zap.Logger
}

type PlaceOrderHTTPRequest struct {
	AddressID     int64   `json:"address_id"`
	PaymentMethod string  `json:"payment_method"`
	CartItemIDs   []int64 `json:"cart_item_ids"`
}

type PlaceOrderHTTPResponse struct {
	OrderID    string `json:"order_id"`
	TotalPrice string `json:"total_price"`
	Status     string `json:"status"`
	Replayed   bool   `json:"replayed"`
}

type OrderItemView struct {
	ID        int64  `json:"id"`
	VariantID int64  `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type PaymentView struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"`
	Method        string    `json:"method"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderView struct {
	ID         string          `json:"id"`
	CustomerID int64           `json:"customer_id"`
	AddressID  int64           `json:"address_id"`
	TotalPrice string          `json:"total_price"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Items      []OrderItemView `json:"items,omitempty"`
	Payment    *PaymentView    `json:"payment,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func NewHTTPHandler(orderService *service.OrderService, queryService *service.OrderQueryService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orderService: orderService, queryService: queryService, logger: logger}
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req PlaceOrderHTTPRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   "request_too_large",
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "invalid request body",
		})
		return
	}

	result, err := h.orderService.PlaceOrder(r.Context(), domain.PlaceOrderCommand{
		CustomerID:     actor.ID,
		AddressID:      req.AddressID,
		PaymentMethod:  domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		CartItemIDs:    req.CartItemIDs,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(headerIdempotencyKey)),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, PlaceOrderHTTPResponse{
		OrderID:    result.OrderID,
		TotalPrice: result.TotalPrice.StringFixed(2),
		Status:     string(result.Status),
		Replayed:   result.Replayed,
	})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	details, err := h.queryService.GetOrder(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detailsView(details))
}

func (h *HTTPHandler) ListOrderItems(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	items, err := h.queryService.ListOrderItems(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemViews(items))
}

func (h *HTTPHandler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.queryService.ListCustomerOrders(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderViews(orders))
}

func (h *HTTPHandler) ListMerchantOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.queryService.ListMerchantOrders(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderViews(orders))
}

func (h *HTTPHandler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, err)
		return
	}

	orders, err := h.queryService.ListAllOrders(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderViews(orders))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor reads the caller identity set by the upstream authentication layer.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, err := parseActor(r.Header.Get(headerUserID), r.Header.Get(headerUserRole))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:   "unauthenticated",
			Message: err.Error(),
		})
		return domain.Actor{}, false
	}
	return actor, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	m := mapError(err)
	if m.status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, m.status, errorResponse{
		Error:     m.errorCode,
		Message:   m.messageFor(err),
		Retryable: domain.IsRetryable(err),
	})
}

func parseActor(rawID, rawRole string) (domain.Actor, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, errUnauthenticated
	}

	role := domain.Role(strings.ToUpper(strings.TrimSpace(rawRole)))
	if role == "" {
		role = domain.RoleCustomer
	}
	switch role {
	case domain.RoleCustomer, domain.RoleMerchant, domain.RoleAdmin:
	default:
		return domain.Actor{}, errUnauthenticated
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidRequest, name)
	}
	return n, nil
}

func orderView(o domain.Order) OrderView {
	return OrderView{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		AddressID:  o.AddressID,
		TotalPrice: o.TotalPrice.StringFixed(2),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func detailsView(details *domain.OrderDetails) OrderView {
	view := orderView(details.Order)
	view.Items = itemViews(details.Items)
	if p := details.Payment; p != nil {
		view.Payment = &PaymentView{
			ID:            p.ID,
			Amount:        p.Amount.StringFixed(2),
			Method:        string(p.Method),
			Status:        string(p.Status),
			TransactionID: p.TransactionID,
			CreatedAt:     p.CreatedAt,
		}
	}
	return view
}

func orderViews(orders []domain.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView(o))
	}
	return views
}

func itemViews(items []domain.OrderItem) []OrderItemView {
	views := make([]OrderItemView, 0, len(items))
	for _, it := range items {
		views = append(views, OrderItemView{
			ID:        it.ID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
