package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fourj/orderservice/internal/platform/auth"
	"github.com/fourj/orderservice/internal/platform/httpx"
	"github.com/fourj/orderservice/internal/services"
)

const maxStatusUpdateBodySize = 4 * 1024

// RoleSeller is the Firebase custom claim required for seller endpoints.
const RoleSeller = "seller"

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

// SellerOrderHandlers exposes fulfillment endpoints scoped to a seller's own
// order lines.
type SellerOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewSellerOrderHandlers constructs a new SellerOrderHandlers instance.
func NewSellerOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *SellerOrderHandlers {
	return &SellerOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /seller/orders endpoints.
func (h *SellerOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(RoleSeller))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/stats", h.orderStats)
	r.Patch("/orders/{orderID}/status", h.updateStatus)
}

func (h *SellerOrderHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	stats, err := h.orders.Stats(ctx, services.OrderStatsQuery{SellerID: strings.TrimSpace(identity.UID)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderStatsResponse{Stats: buildOrderStatsPayload(stats)})
}

func (h *SellerOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

	orders, err := h.orders.ListBySeller(ctx, services.ListSellerOrdersQuery{
		SellerID:   strings.TrimSpace(identity.UID),
		Status:     statusFilters,
		Pagination: page,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(orders, page.PageSize))
}

func (h *SellerOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxStatusUpdateBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	status, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:      orderID,
		TargetStatus: status,
		SellerID:     strings.TrimSpace(identity.UID),
		ActorID:      strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
