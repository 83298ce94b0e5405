package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/platform/auth"
	"github.com/fourj/orderservice/internal/platform/httpx"
	"github.com/fourj/orderservice/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

type createOrderRequest struct {
	Items           []createOrderItemRequest `json:"items"`
	ShippingAddress string                   `json:"shipping_address"`
	PaymentMethod   string                   `json:"payment_method"`
	Notes           string                   `json:"notes"`
	CheckoutID      string                   `json:"checkout_id"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes order endpoints for authenticated buyers.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	limiter rateLimiter
}

// OrderOption customises an OrderHandlers instance.
type OrderOption func(*OrderHandlers)

// WithOrderCreateLimit throttles order creation per user to limit requests
// within the given window.
func WithOrderCreateLimit(limit int, window time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "order creation rate limit exceeded", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderCreateBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	cmd := services.CreateOrderCommand{
		UserID:          strings.TrimSpace(identity.UID),
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Notes:           req.Notes,
		CheckoutID:      strings.TrimSpace(req.CheckoutID),
		AuthToken:       bearerToken(r),
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statusFilters, err := parseStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := parsePagination(query, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	orders, err := h.orders.ListByUser(ctx, services.ListUserOrdersQuery{
		UserID:     strings.TrimSpace(identity.UID),
		Status:     statusFilters,
		Pagination: page,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(orders, page.PageSize))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{
		OrderID: orderID,
		UserID:  strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByNumber(ctx, services.GetOrderByNumberQuery{
		OrderNumber: orderNumber,
		UserID:      strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentMethod string `json:"payment_method"`
	TotalAmount   int64  `json:"total_amount"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderStatsResponse struct {
	Stats orderStatsPayload `json:"stats"`
}

type orderStatsPayload struct {
	TotalOrders      int64   `json:"total_orders"`
	PendingOrders    int64   `json:"pending_orders"`
	ProcessingOrders int64   `json:"processing_orders"`
	ShippedOrders    int64   `json:"shipped_orders"`
	DeliveredOrders  int64   `json:"delivered_orders"`
	CompletedOrders  int64   `json:"completed_orders"`
	CancelledOrders  int64   `json:"cancelled_orders"`
	RefundedOrders   int64   `json:"refunded_orders"`
	TotalRevenue     int64   `json:"total_revenue"`
	AvgOrderValue    int64   `json:"avg_order_value"`
	CompletionRate   float64 `json:"completion_rate"`
	CancellationRate float64 `json:"cancellation_rate"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	UserID          string             `json:"user_id"`
	CheckoutID      string             `json:"checkout_id,omitempty"`
	Status          string             `json:"status"`
	TotalAmount     int64              `json:"total_amount"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
	Payment         paymentInfoPayload `json:"payment"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
	CompletedAt     string             `json:"completed_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
	SellerID    string `json:"seller_id,omitempty"`
}

type paymentInfoPayload struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentLinkID string `json:"payment_link_id,omitempty"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	PaymentDate   string `json:"payment_date,omitempty"`
}

func buildOrderListResponse(orders []services.Order, pageSize int) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: nextPageToken(orders, pageSize),
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        string(order.Status),
		PaymentStatus: string(order.Payment.Status),
		PaymentMethod: string(order.Payment.Method),
		TotalAmount:   order.TotalAmount,
		ItemCount:     len(order.Items),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderStatsPayload(stats services.OrderStats) orderStatsPayload {
	return orderStatsPayload{
		TotalOrders:      stats.TotalOrders,
		PendingOrders:    stats.StatusCounts[domain.OrderStatusPending],
		ProcessingOrders: stats.StatusCounts[domain.OrderStatusProcessing],
		ShippedOrders:    stats.StatusCounts[domain.OrderStatusShipped],
		DeliveredOrders:  stats.StatusCounts[domain.OrderStatusDelivered],
		CompletedOrders:  stats.StatusCounts[domain.OrderStatusCompleted],
		CancelledOrders:  stats.StatusCounts[domain.OrderStatusCancelled],
		RefundedOrders:   stats.StatusCounts[domain.OrderStatusRefunded],
		TotalRevenue:     stats.TotalRevenue,
		AvgOrderValue:    stats.AverageOrderValue,
		CompletionRate:   stats.CompletionRate,
		CancellationRate: stats.CancellationRate,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              strings.TrimSpace(order.ID),
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		CheckoutID:      strings.TrimSpace(order.CheckoutID),
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: order.ShippingAddress,
		Payment: paymentInfoPayload{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: strings.TrimSpace(order.Payment.TransactionID),
			PaymentLinkID: strings.TrimSpace(order.Payment.PaymentLinkID),
			CheckoutURL:   strings.TrimSpace(order.Payment.CheckoutURL),
			PaymentDate:   formatTime(pointerTime(order.Payment.PaymentDate)),
		},
		Notes:       order.Notes,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		CompletedAt: formatTime(pointerTime(order.CompletedAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
			SellerID:    strings.TrimSpace(item.SellerID),
		})
	}

	return payload
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderEmptyCart),
		errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderPriceMismatch),
		errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("order_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
