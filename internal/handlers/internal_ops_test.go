package handlers

import (
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

type stubExportRunner struct {
	triggerFn func(context.Context) (services.ExportResult, error)
}

func (s *stubExportRunner) Trigger(ctx context.Context) (services.ExportResult, error) {
	if s.triggerFn != nil {
		return s.triggerFn(ctx)
	}
	return services.ExportResult{}, errors.New("not implemented")
}

type stubExportService struct {
	batchFn  func(context.Context) (services.ExportResult, error)
	singleFn func(context.Context, string) (string, error)
}

func (s *stubExportService) ExportBatch(ctx context.Context) (services.ExportResult, error) {
	if s.batchFn != nil {
		return s.batchFn(ctx)
	}
	return services.ExportResult{}, errors.New("not implemented")
}

func (s *stubExportService) ExportOrder(ctx context.Context, orderID string) (string, error) {
	if s.singleFn != nil {
		return s.singleFn(ctx, orderID)
	}
	return "", errors.New("not implemented")
}

var _ services.ExportService = (*stubExportService)(nil)

func TestInternalHandlersRunExport(t *testing.T) {
	runner := &stubExportRunner{
		triggerFn: func(context.Context) (services.ExportResult, error) {
			return services.ExportResult{
				ObjectName: "processed-interactions/new/orders_2025-05-01_09-30-15.csv",
				OrderCount: 3,
				RowCount:   7,
			}, nil
		},
	}

	handler := NewInternalHandlers(runner, &stubExportService{}, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/exports:run", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp exportRunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ObjectName != "processed-interactions/new/orders_2025-05-01_09-30-15.csv" {
		t.Fatalf("unexpected object name: %s", resp.ObjectName)
	}
	if resp.OrderCount != 3 || resp.RowCount != 7 || resp.Skipped {
		t.Fatalf("unexpected result: %#v", resp)
	}
}

func TestInternalHandlersRunExportBusy(t *testing.T) {
	runner := &stubExportRunner{
		triggerFn: func(context.Context) (services.ExportResult, error) {
			return services.ExportResult{}, services.ErrExportBusy
		},
	}

	handler := NewInternalHandlers(runner, &stubExportService{}, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/exports:run", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestInternalHandlersExportOrder(t *testing.T) {
	exports := &stubExportService{
		singleFn: func(ctx context.Context, orderID string) (string, error) {
			if orderID != "ord_123" {
				t.Fatalf("expected order id ord_123, got %s", orderID)
			}
			return "processed-interactions/new/order_004217_2025-05-01_09-30-15.csv", nil
		},
	}

	handler := NewInternalHandlers(&stubExportRunner{}, exports, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_123:export", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp exportRunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Skipped || resp.OrderCount != 1 {
		t.Fatalf("unexpected result: %#v", resp)
	}
}

func TestInternalHandlersExportOrderAlreadyExported(t *testing.T) {
	exports := &stubExportService{
		singleFn: func(context.Context, string) (string, error) {
			return "", nil
		},
	}

	handler := NewInternalHandlers(&stubExportRunner{}, exports, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_123:export", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp exportRunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Skipped || resp.OrderCount != 0 {
		t.Fatalf("unexpected result: %#v", resp)
	}
}

func TestInternalHandlersExportOrderNotFound(t *testing.T) {
	exports := &stubExportService{
		singleFn: func(context.Context, string) (string, error) {
			return "", services.ErrOrderNotFound
		},
	}

	handler := NewInternalHandlers(&stubExportRunner{}, exports, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_missing:export", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestInternalHandlersSyncPayment(t *testing.T) {
	var syncedID string
	reconciler := &stubReconciler{
		syncFn: func(_ context.Context, orderID string) (services.WebhookOutcome, error) {
			syncedID = orderID
			return services.WebhookOutcome{
				OrderID:       orderID,
				OrderNumber:   "000123",
				Applied:       true,
				OrderStatus:   domain.OrderStatusProcessing,
				PaymentStatus: domain.PaymentStatusCompleted,
			}, nil
		},
	}

	handler := NewInternalHandlers(&stubExportRunner{}, &stubExportService{}, reconciler)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_1/payment:sync", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if syncedID != "ord_1" {
		t.Fatalf("expected sync for ord_1, got %q", syncedID)
	}

	var resp paymentSyncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Applied || resp.PaymentStatus != string(domain.PaymentStatusCompleted) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}
