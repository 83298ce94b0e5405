package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fourj/orderservice/internal/domain"
	pfirestore "github.com/fourj/orderservice/internal/platform/firestore"
	"github.com/fourj/orderservice/internal/platform/pagination"
	"github.com/fourj/orderservice/internal/repositories"
)

const (
	orderCollection = "orders"

	// Firestore transactions cap at 500 writes; exports batch well below that.
	maxExportMarks = 450
)

// OrderRepository persists order aggregates within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document, failing with a conflict when the ID is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update persists the order only when the stored version matches order.Version.
// The written document carries order.Version+1. Exported stays monotonic even
// when the caller read a stale copy.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return err
		}
		if stored.Version != order.Version {
			return status.Errorf(codes.FailedPrecondition, "order %s version mismatch: have %d want %d", orderID, stored.Version, order.Version)
		}

		next := order
		next.Version = order.Version + 1
		next.Exported = order.Exported || stored.Exported
		return tx.Set(ref, encodeOrder(next))
	})
}

// FindByID loads a single order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByOrderNumber resolves an order through its human-facing number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOneByField(ctx, "orderNumber", strings.TrimSpace(orderNumber), "orders.find_by_number")
}

// FindByCheckoutID resolves an order through the checkout idempotency key.
func (r *OrderRepository) FindByCheckoutID(ctx context.Context, checkoutID string) (domain.Order, error) {
	return r.findOneByField(ctx, "checkoutId", strings.TrimSpace(checkoutID), "orders.find_by_checkout")
}

func (r *OrderRepository) findOneByField(ctx context.Context, field, value, op string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if value == "" {
		return domain.Order{}, errors.New("order repository: lookup value is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "order with %s %q not found", field, value))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if sid := strings.TrimSpace(filter.SellerID); sid != "" {
			q = q.Where("sellerIds", "array-contains", sid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			if cursor, err := pagination.DecodeToken(token); err == nil && len(cursor.StartAfter) > 0 {
				q = q.StartAfter(cursorValues(cursor.StartAfter)...)
			}
		}
		if filter.Pagination.PageSize > 0 {
			q = q.Limit(filter.Pagination.PageSize)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

// Tally runs a server-side aggregation over orders matching the filter,
// returning the document count and the sum of totalAmount.
func (r *OrderRepository) Tally(ctx context.Context, filter repositories.OrderTallyFilter) (repositories.OrderTally, error) {
	if r == nil || r.base == nil {
		return repositories.OrderTally{}, errors.New("order repository not initialised")
	}

	result, err := r.base.Aggregate(ctx, func(q firestore.Query) firestore.Query {
		if sid := strings.TrimSpace(filter.SellerID); sid != "" {
			q = q.Where("sellerIds", "array-contains", sid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		return q
	}, func(q firestore.Query) *firestore.AggregationQuery {
		return q.NewAggregationQuery().
			WithCount("count").
			WithSum("totalAmount", "amountSum")
	})
	if err != nil {
		return repositories.OrderTally{}, err
	}

	return repositories.OrderTally{
		Count:     aggregationInt(result["count"]),
		AmountSum: aggregationInt(result["amountSum"]),
	}, nil
}

// aggregationInt unwraps a Firestore aggregation value. Sums over integer
// fields come back as integers unless the server widened them to doubles.
func aggregationInt(raw any) int64 {
	value, ok := raw.(*firestorepb.Value)
	if !ok || value == nil {
		return 0
	}
	switch v := value.ValueType.(type) {
	case *firestorepb.Value_IntegerValue:
		return v.IntegerValue
	case *firestorepb.Value_DoubleValue:
		return int64(v.DoubleValue)
	default:
		return 0
	}
}

// ListUnexported returns orders awaiting export, oldest first.
func (r *OrderRepository) ListUnexported(ctx context.Context, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("exported", "==", false).OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

// MarkExported flips the exported flag for every listed order in one transaction.
func (r *OrderRepository) MarkExported(ctx context.Context, orderIDs []string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > maxExportMarks {
		return errors.New("order repository: export batch exceeds transaction write limit")
	}

	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	now := time.Now().UTC()
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, ref := range refs {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "exported", Value: true},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// cursorValues converts decoded cursor entries back into the native types the
// query ordered by. Timestamps round-trip through RFC3339 in the page token.
func cursorValues(raw []any) []any {
	values := make([]any, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				values = append(values, ts.UTC())
				continue
			}
		}
		values = append(values, entry)
	}
	return values
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		CheckoutID:      strings.TrimSpace(order.CheckoutID),
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		Exported:        order.Exported,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		Payment: paymentInfoDocument{
			Method:           string(order.Payment.Method),
			Status:           string(order.Payment.Status),
			TransactionID:    order.Payment.TransactionID,
			PaymentLinkID:    order.Payment.PaymentLinkID,
			CheckoutURL:      order.Payment.CheckoutURL,
			GatewayOrderCode: order.Payment.GatewayOrderCode,
		},
	}
	if order.CompletedAt != nil {
		ts := order.CompletedAt.UTC()
		doc.CompletedAt = &ts
	}
	if order.Payment.PaymentDate != nil {
		ts := order.Payment.PaymentDate.UTC()
		doc.Payment.PaymentDate = &ts
	}

	sellerSeen := make(map[string]struct{}, len(order.Items))
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
			SellerID:    item.SellerID,
		})
		if sid := strings.TrimSpace(item.SellerID); sid != "" {
			if _, ok := sellerSeen[sid]; !ok {
				sellerSeen[sid] = struct{}{}
				doc.SellerIDs = append(doc.SellerIDs, sid)
			}
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		CheckoutID:      doc.CheckoutID,
		Status:          domain.OrderStatus(doc.Status),
		TotalAmount:     doc.TotalAmount,
		ShippingAddress: doc.ShippingAddress,
		Notes:           doc.Notes,
		Exported:        doc.Exported,
		Version:         doc.Version,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		CompletedAt:     doc.CompletedAt,
		Payment: domain.PaymentInfo{
			Method:           domain.PaymentMethod(doc.Payment.Method),
			Status:           domain.PaymentStatus(doc.Payment.Status),
			TransactionID:    doc.Payment.TransactionID,
			PaymentLinkID:    doc.Payment.PaymentLinkID,
			CheckoutURL:      doc.Payment.CheckoutURL,
			GatewayOrderCode: doc.Payment.GatewayOrderCode,
			PaymentDate:      doc.Payment.PaymentDate,
		},
	}
	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
			SellerID:    item.SellerID,
		})
	}
	return order
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	CheckoutID      string              `firestore:"checkoutId,omitempty"`
	Status          string              `firestore:"status"`
	TotalAmount     int64               `firestore:"totalAmount"`
	Items           []orderItemDocument `firestore:"items"`
	SellerIDs       []string            `firestore:"sellerIds,omitempty"`
	ShippingAddress string              `firestore:"shippingAddress,omitempty"`
	Payment         paymentInfoDocument `firestore:"payment"`
	Notes           string              `firestore:"notes,omitempty"`
	Exported        bool                `firestore:"exported"`
	Version         int64               `firestore:"version"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	CompletedAt     *time.Time          `firestore:"completedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	Subtotal    int64  `firestore:"subtotal"`
	SellerID    string `firestore:"sellerId,omitempty"`
}

type paymentInfoDocument struct {
	Method           string     `firestore:"method"`
	Status           string     `firestore:"status"`
	TransactionID    string     `firestore:"transactionId,omitempty"`
	PaymentLinkID    string     `firestore:"paymentLinkId,omitempty"`
	CheckoutURL      string     `firestore:"checkoutUrl,omitempty"`
	GatewayOrderCode int64      `firestore:"gatewayOrderCode,omitempty"`
	PaymentDate      *time.Time `firestore:"paymentDate,omitempty"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
