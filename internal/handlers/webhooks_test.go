package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/services"
)

type stubReconciler struct {
	processFn func(context.Context, []byte) (services.WebhookOutcome, error)
	syncFn    func(context.Context, string) (services.WebhookOutcome, error)
}

func (s *stubReconciler) ProcessWebhook(ctx context.Context, payload []byte) (services.WebhookOutcome, error) {
	if s.processFn != nil {
		return s.processFn(ctx, payload)
	}
	return services.WebhookOutcome{}, errors.New("not implemented")
}

func (s *stubReconciler) SyncPaymentStatus(ctx context.Context, orderID string) (services.WebhookOutcome, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx, orderID)
	}
	return services.WebhookOutcome{}, errors.New("not implemented")
}

var _ services.PaymentReconciler = (*stubReconciler)(nil)

func TestWebhookHandlersPaymentApplied(t *testing.T) {
	var received []byte
	reconciler := &stubReconciler{
		processFn: func(ctx context.Context, payload []byte) (services.WebhookOutcome, error) {
			received = payload
			return services.WebhookOutcome{
				OrderID:       "ord_123",
				OrderNumber:   "004217",
				ResultCode:    "00",
				Applied:       true,
				OrderStatus:   domain.OrderStatusProcessing,
				PaymentStatus: domain.PaymentStatusCompleted,
			}, nil
		},
	}

	handler := NewWebhookHandlers(reconciler)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	body := []byte(`{"code": "00", "data": {"orderCode": 4217}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !bytes.Equal(received, body) {
		t.Fatalf("expected raw payload forwarded, got %s", received)
	}

	var resp webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Received || !resp.Applied || resp.OrderID != "ord_123" {
		t.Fatalf("unexpected ack: %#v", resp)
	}
}

func TestWebhookHandlersPaymentFailureStillAcknowledged(t *testing.T) {
	reconciler := &stubReconciler{
		processFn: func(context.Context, []byte) (services.WebhookOutcome, error) {
			return services.WebhookOutcome{}, errors.New("firestore unavailable")
		},
	}

	handler := NewWebhookHandlers(reconciler)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 despite processing failure, got %d", rr.Code)
	}

	var resp webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Received || resp.Applied {
		t.Fatalf("unexpected ack: %#v", resp)
	}
}

func TestWebhookHandlersPaymentNoopAcknowledged(t *testing.T) {
	reconciler := &stubReconciler{
		processFn: func(context.Context, []byte) (services.WebhookOutcome, error) {
			return services.WebhookOutcome{OrderID: "ord_123", ResultCode: "00", Applied: false}, nil
		},
	}

	handler := NewWebhookHandlers(reconciler)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader([]byte(`{"code": "00"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Applied {
		t.Fatalf("expected replay to be reported as not applied")
	}
}
