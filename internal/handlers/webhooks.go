package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fourj/orderservice/internal/platform/httpx"
	"github.com/fourj/orderservice/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives asynchronous gateway callbacks.
type WebhookHandlers struct {
	reconciler services.PaymentReconciler
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentWebhook)
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"applied"`
	OrderID  string `json:"order_id,omitempty"`
}

// paymentWebhook acknowledges every delivery with HTTP 200 once the payload
// has been read, otherwise the gateway retries deliveries that can never
// succeed. Rejections and no-ops are reflected in the body only.
func (h *WebhookHandlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}

	outcome, err := h.reconciler.ProcessWebhook(ctx, payload)
	if err != nil {
		// Still acknowledged; the reconciler has logged the failure and the
		// payment state will converge on the next status poll.
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received: true,
		Applied:  outcome.Applied,
		OrderID:  outcome.OrderID,
	})
}
