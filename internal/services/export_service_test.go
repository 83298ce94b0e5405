package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
)

type stubBlobUploader struct {
	uploadFn func(ctx context.Context, object string, payload []byte, contentType string) error
}

func (s *stubBlobUploader) Upload(ctx context.Context, object string, payload []byte, contentType string) error {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, object, payload, contentType)
	}
	return nil
}

func unexportedOrders() []domain.Order {
	created := time.Date(2025, 4, 30, 18, 0, 0, 0, time.UTC)
	return []domain.Order{
		{
			ID:          "ord_1",
			OrderNumber: "000123",
			UserID:      "user-1",
			CreatedAt:   created,
			Items: []domain.OrderItem{
				{ProductID: "p-1", Quantity: 2},
				{ProductID: "p-2", Quantity: 1},
			},
		},
		{
			ID:          "ord_2",
			OrderNumber: "000124",
			UserID:      "user-2",
			CreatedAt:   created,
		},
		{
			ID:          "ord_3",
			OrderNumber: "000125",
			UserID:      "user-3",
			CreatedAt:   created,
			Items: []domain.OrderItem{
				{ProductID: "p-3", Quantity: 4},
			},
		},
	}
}

func TestExportBatchUploadsCSVAndMarks(t *testing.T) {
	var gotObject, gotContentType string
	var gotPayload []byte
	var marked []string

	repo := &stubOrderRepo{
		listUnexportedFn: func(context.Context, int) ([]domain.Order, error) {
			return unexportedOrders(), nil
		},
		markFn: func(_ context.Context, ids []string) error {
			marked = ids
			return nil
		},
	}
	blobs := &stubBlobUploader{uploadFn: func(_ context.Context, object string, payload []byte, contentType string) error {
		gotObject = object
		gotPayload = payload
		gotContentType = contentType
		return nil
	}}

	svc, err := NewExportService(ExportServiceDeps{Orders: repo, Blobs: blobs, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewExportService returned error: %v", err)
	}

	result, err := svc.ExportBatch(context.Background())
	if err != nil {
		t.Fatalf("ExportBatch returned error: %v", err)
	}

	if gotObject != "processed-interactions/new/orders_2025-05-01_09-30-15.csv" {
		t.Fatalf("object = %q", gotObject)
	}
	if gotContentType != "text/csv" {
		t.Fatalf("content type = %q, want text/csv", gotContentType)
	}

	want := strings.Join([]string{
		"user_id,product_id,quantity,timestamp",
		"user-1,p-1,2,2025-04-30T18:00:00Z",
		"user-1,p-2,1,2025-04-30T18:00:00Z",
		"user-3,p-3,4,2025-04-30T18:00:00Z",
		"",
	}, "\n")
	if string(gotPayload) != want {
		t.Fatalf("payload mismatch:\n%s\nwant:\n%s", gotPayload, want)
	}

	// The zero-item anomaly ord_2 is skipped and stays unexported.
	if len(marked) != 2 || marked[0] != "ord_1" || marked[1] != "ord_3" {
		t.Fatalf("marked = %v, want [ord_1 ord_3]", marked)
	}
	if result.OrderCount != 2 || result.RowCount != 3 || result.Skipped {
		t.Fatalf("result = %+v", result)
	}
}

func TestExportBatchNothingToDo(t *testing.T) {
	uploads := 0
	repo := &stubOrderRepo{
		listUnexportedFn: func(context.Context, int) ([]domain.Order, error) {
			return nil, nil
		},
	}
	blobs := &stubBlobUploader{uploadFn: func(context.Context, string, []byte, string) error {
		uploads++
		return nil
	}}

	svc, err := NewExportService(ExportServiceDeps{Orders: repo, Blobs: blobs, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewExportService returned error: %v", err)
	}

	result, err := svc.ExportBatch(context.Background())
	if err != nil {
		t.Fatalf("ExportBatch returned error: %v", err)
	}
	if !result.Skipped || uploads != 0 {
		t.Fatalf("empty batch must not touch storage (result=%+v uploads=%d)", result, uploads)
	}
}

func TestExportBatchUploadFailureMarksNothing(t *testing.T) {
	marks := 0
	repo := &stubOrderRepo{
		listUnexportedFn: func(context.Context, int) ([]domain.Order, error) {
			return unexportedOrders(), nil
		},
		markFn: func(context.Context, []string) error {
			marks++
			return nil
		},
	}
	blobs := &stubBlobUploader{uploadFn: func(context.Context, string, []byte, string) error {
		return errors.New("bucket unavailable")
	}}

	svc, err := NewExportService(ExportServiceDeps{Orders: repo, Blobs: blobs, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewExportService returned error: %v", err)
	}

	if _, err := svc.ExportBatch(context.Background()); err == nil {
		t.Fatal("expected upload failure to surface")
	}
	if marks != 0 {
		t.Fatal("orders must stay eligible for the next run after a failed upload")
	}
}

func TestExportOrderSingle(t *testing.T) {
	order := unexportedOrders()[0]
	var gotObject string
	var marked []string

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != order.ID {
				return domain.Order{}, repoErr{notFound: true}
			}
			return order, nil
		},
		markFn: func(_ context.Context, ids []string) error {
			marked = ids
			return nil
		},
	}
	blobs := &stubBlobUploader{uploadFn: func(_ context.Context, object string, _ []byte, _ string) error {
		gotObject = object
		return nil
	}}

	svc, err := NewExportService(ExportServiceDeps{Orders: repo, Blobs: blobs, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewExportService returned error: %v", err)
	}

	object, err := svc.ExportOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("ExportOrder returned error: %v", err)
	}
	if object != "processed-interactions/new/order_000123_2025-05-01_09-30-15.csv" {
		t.Fatalf("object = %q", object)
	}
	if gotObject != object {
		t.Fatalf("uploaded object = %q, want %q", gotObject, object)
	}
	if len(marked) != 1 || marked[0] != order.ID {
		t.Fatalf("marked = %v, want [%s]", marked, order.ID)
	}
}

func TestExportOrderAlreadyExported(t *testing.T) {
	uploads := 0
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Exported: true, Items: []domain.OrderItem{{ProductID: "p-1", Quantity: 1}}}, nil
		},
	}
	blobs := &stubBlobUploader{uploadFn: func(context.Context, string, []byte, string) error {
		uploads++
		return nil
	}}

	svc, err := NewExportService(ExportServiceDeps{Orders: repo, Blobs: blobs, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewExportService returned error: %v", err)
	}

	object, err := svc.ExportOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("ExportOrder returned error: %v", err)
	}
	if object != "" || uploads != 0 {
		t.Fatalf("already-exported order must be a no-op (object=%q uploads=%d)", object, uploads)
	}
}
