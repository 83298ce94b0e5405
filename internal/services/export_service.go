package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/platform/storage"
	"github.com/fourj/orderservice/internal/repositories"
)

const (
	exportContentType    = "text/csv"
	defaultExportPrefix  = "processed-interactions/new"
	defaultExportBatch   = 500
	exportTimestampWire  = time.RFC3339
	exportRecordUserID   = "user_id"
	exportRecordProduct  = "product_id"
	exportRecordQuantity = "quantity"
	exportRecordTime     = "timestamp"
)

// BlobUploader is the slice of the blob store the exporter needs.
type BlobUploader interface {
	Upload(ctx context.Context, object string, payload []byte, contentType string) error
}

// ExportServiceDeps bundles collaborators for the CSV export service.
type ExportServiceDeps struct {
	Orders     repositories.OrderRepository
	Blobs      BlobUploader
	Prefix     string
	BatchLimit int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type exportService struct {
	orders     repositories.OrderRepository
	blobs      BlobUploader
	prefix     string
	batchLimit int
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ ExportService = (*exportService)(nil)

// NewExportService wires dependencies into a concrete ExportService.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("export service: order repository is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("export service: blob uploader is required")
	}

	prefix := strings.TrimSpace(deps.Prefix)
	if prefix == "" {
		prefix = defaultExportPrefix
	}

	limit := deps.BatchLimit
	if limit <= 0 {
		limit = defaultExportBatch
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &exportService{
		orders:     deps.Orders,
		blobs:      deps.Blobs,
		prefix:     prefix,
		batchLimit: limit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ExportBatch uploads every unexported order's line items as one CSV object
// and flags the included orders in a single bulk write. A failed upload flags
// nothing, so the batch stays eligible for the next run.
func (s *exportService) ExportBatch(ctx context.Context) (ExportResult, error) {
	orders, err := s.orders.ListUnexported(ctx, s.batchLimit)
	if err != nil {
		return ExportResult{}, fmt.Errorf("export: list unexported orders: %w", err)
	}

	ids := make([]string, 0, len(orders))
	rows := 0
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{exportRecordUserID, exportRecordProduct, exportRecordQuantity, exportRecordTime}); err != nil {
		return ExportResult{}, fmt.Errorf("export: write header: %w", err)
	}

	for _, order := range orders {
		if len(order.Items) == 0 {
			s.logger(ctx, "export.order_skipped", map[string]any{
				"order":  order.ID,
				"reason": "no items",
			})
			continue
		}
		if err := writeOrderRows(writer, order); err != nil {
			return ExportResult{}, err
		}
		rows += len(order.Items)
		ids = append(ids, order.ID)
	}

	if len(ids) == 0 {
		return ExportResult{Skipped: true}, nil
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return ExportResult{}, fmt.Errorf("export: serialize batch: %w", err)
	}

	object, err := storage.BatchExportObject(s.prefix, s.clock())
	if err != nil {
		return ExportResult{}, fmt.Errorf("export: build object name: %w", err)
	}
	if err := s.blobs.Upload(ctx, object, buf.Bytes(), exportContentType); err != nil {
		return ExportResult{}, fmt.Errorf("export: upload %s: %w", object, err)
	}

	if err := s.orders.MarkExported(ctx, ids); err != nil {
		return ExportResult{}, fmt.Errorf("export: mark %d orders exported: %w", len(ids), err)
	}

	s.logger(ctx, "export.batch_completed", map[string]any{
		"object": object,
		"orders": len(ids),
		"rows":   rows,
	})
	return ExportResult{ObjectName: object, OrderCount: len(ids), RowCount: rows}, nil
}

// ExportOrder uploads a single order's line items and flags it exported.
// An already-exported or empty order is a no-op.
func (s *exportService) ExportOrder(ctx context.Context, orderID string) (string, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return "", fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("export: load order %s: %w", id, err)
	}
	if order.Exported {
		return "", nil
	}
	if len(order.Items) == 0 {
		s.logger(ctx, "export.order_skipped", map[string]any{
			"order":  order.ID,
			"reason": "no items",
		})
		return "", nil
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{exportRecordUserID, exportRecordProduct, exportRecordQuantity, exportRecordTime}); err != nil {
		return "", fmt.Errorf("export: write header: %w", err)
	}
	if err := writeOrderRows(writer, order); err != nil {
		return "", err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("export: serialize order %s: %w", order.ID, err)
	}

	object, err := storage.SingleExportObject(s.prefix, order.OrderNumber, s.clock())
	if err != nil {
		return "", fmt.Errorf("export: build object name: %w", err)
	}
	if err := s.blobs.Upload(ctx, object, buf.Bytes(), exportContentType); err != nil {
		return "", fmt.Errorf("export: upload %s: %w", object, err)
	}

	if err := s.orders.MarkExported(ctx, []string{order.ID}); err != nil {
		return "", fmt.Errorf("export: mark order %s exported: %w", order.ID, err)
	}
	return object, nil
}

// The record format is a content audit trail only; order identifiers are
// intentionally absent.
func writeOrderRows(writer *csv.Writer, order domain.Order) error {
	created := order.CreatedAt.UTC().Format(exportTimestampWire)
	for _, item := range order.Items {
		record := []string{order.UserID, item.ProductID, strconv.Itoa(item.Quantity), created}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("export: write row for order %s: %w", order.ID, err)
		}
	}
	return nil
}
