package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fourj/orderservice/internal/platform/httpx"
	"github.com/fourj/orderservice/internal/services"
)

// ExportRunner triggers a lock-guarded export run. Satisfied by the export
// scheduler so manual triggers share the same mutual exclusion as timed runs.
type ExportRunner interface {
	Trigger(ctx context.Context) (services.ExportResult, error)
}

// InternalHandlers exposes operational endpoints for trusted callers.
type InternalHandlers struct {
	runner     ExportRunner
	exports    services.ExportService
	reconciler services.PaymentReconciler
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(runner ExportRunner, exports services.ExportService, reconciler services.PaymentReconciler) *InternalHandlers {
	return &InternalHandlers{
		runner:     runner,
		exports:    exports,
		reconciler: reconciler,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/exports:run", h.runExport)
	r.Post("/orders/{orderID}:export", h.exportOrder)
	r.Post("/orders/{orderID}/payment:sync", h.syncPayment)
}

type exportRunResponse struct {
	ObjectName string `json:"object_name,omitempty"`
	OrderCount int    `json:"order_count"`
	RowCount   int    `json:"row_count"`
	Skipped    bool   `json:"skipped"`
}

func (h *InternalHandlers) runExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.runner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "export runner unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.runner.Trigger(ctx)
	if err != nil {
		if errors.Is(err, services.ErrExportBusy) {
			httpx.WriteError(ctx, w, httpx.NewError("export_busy", "another export run is in progress", http.StatusConflict))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("export_failed", "export run failed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, exportRunResponse{
		ObjectName: result.ObjectName,
		OrderCount: result.OrderCount,
		RowCount:   result.RowCount,
		Skipped:    result.Skipped,
	})
}

func (h *InternalHandlers) exportOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "export service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	objectName, err := h.exports.ExportOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := exportRunResponse{ObjectName: objectName, Skipped: objectName == ""}
	if !response.Skipped {
		response.OrderCount = 1
	}
	writeJSONResponse(w, http.StatusOK, response)
}

type paymentSyncResponse struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number,omitempty"`
	Applied       bool   `json:"applied"`
	OrderStatus   string `json:"order_status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// syncPayment polls the gateway for an order whose webhook may have been
// missed and applies the settled state.
func (h *InternalHandlers) syncPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciler_unavailable", "payment reconciler unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	outcome, err := h.reconciler.SyncPaymentStatus(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentSyncResponse{
		OrderID:       outcome.OrderID,
		OrderNumber:   outcome.OrderNumber,
		Applied:       outcome.Applied,
		OrderStatus:   string(outcome.OrderStatus),
		PaymentStatus: string(outcome.PaymentStatus),
	})
}
