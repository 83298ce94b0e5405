package services

import (
	"context"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentInfo        = domain.PaymentInfo
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	CheckoutEvent      = domain.CheckoutEvent
	ProductSnapshot    = domain.ProductSnapshot
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService encapsulates order creation, reads, and the joint order/payment
// status lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	CreateFromEvent(ctx context.Context, event CheckoutEvent) (Order, error)
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	GetByNumber(ctx context.Context, query GetOrderByNumberQuery) (Order, error)
	ListByUser(ctx context.Context, query ListUserOrdersQuery) ([]Order, error)
	ListBySeller(ctx context.Context, query ListSellerOrdersQuery) ([]Order, error)
	List(ctx context.Context, query ListOrdersQuery) ([]Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Stats(ctx context.Context, query OrderStatsQuery) (OrderStats, error)
}

// PaymentReconciler processes asynchronous payment gateway webhooks and
// reconciles order state with the gateway outcome.
type PaymentReconciler interface {
	ProcessWebhook(ctx context.Context, payload []byte) (WebhookOutcome, error)
	// SyncPaymentStatus polls the gateway for the order's checkout link and
	// applies whatever settled state the missing webhook would have carried.
	SyncPaymentStatus(ctx context.Context, orderID string) (WebhookOutcome, error)
}

// ExportService serialises completed-but-unexported orders to CSV and uploads
// the files to blob storage.
type ExportService interface {
	ExportBatch(ctx context.Context) (ExportResult, error)
	ExportOrder(ctx context.Context, orderID string) (string, error)
}

// SystemService exposes operational utilities such as dependency health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher emits lifecycle events for downstream consumers. The
// returned string is the broker-assigned message id.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// CartClient clears a user's cart after a successful checkout.
type CartClient interface {
	ClearCart(ctx context.Context, userID string, token string) error
}

// ProductClient resolves product snapshots and adjusts stock levels.
type ProductClient interface {
	GetProduct(ctx context.Context, productID string) (ProductSnapshot, error)
	UpdateStock(ctx context.Context, productID string, delta int) (bool, error)
}

// OrderEventMessage is the payload published on order lifecycle transitions.
type OrderEventMessage struct {
	EventID     string `json:"eventId"`
	EventType   string `json:"eventType"`
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount,omitempty"`
	OccurredAt  string `json:"occurredAt,omitempty"`
}

// CreateOrderCommand captures a direct order creation request.
type CreateOrderCommand struct {
	UserID          string
	Items           []CreateOrderItem
	ShippingAddress string
	PaymentMethod   PaymentMethod
	Notes           string
	CheckoutID      string
	AuthToken       string
}

// CreateOrderItem is one requested line in a creation command. UnitPrice is
// the price the buyer saw; it must match the authoritative catalog price.
type CreateOrderItem struct {
	ProductID string
	UnitPrice int64
	Quantity  int
}

// GetOrderQuery identifies a single order read. When UserID is set the order
// must belong to that user.
type GetOrderQuery struct {
	OrderID string
	UserID  string
}

// GetOrderByNumberQuery reads an order by its public order number.
type GetOrderByNumberQuery struct {
	OrderNumber string
	UserID      string
}

// ListUserOrdersQuery filters a user's own orders.
type ListUserOrdersQuery struct {
	UserID     string
	Status     []OrderStatus
	Pagination Pagination
}

// ListSellerOrdersQuery filters orders containing a seller's products.
type ListSellerOrdersQuery struct {
	SellerID   string
	Status     []OrderStatus
	Pagination Pagination
}

// ListOrdersQuery is the administrative listing filter.
type ListOrdersQuery struct {
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// UpdateOrderStatusCommand requests an order status transition. SellerID, when
// set, restricts the transition to orders carrying that seller's products.
type UpdateOrderStatusCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	SellerID     string
	ActorID      string
}

// UpdatePaymentStatusCommand force-sets the payment leg of an order. Reserved
// for administrative correction flows.
type UpdatePaymentStatusCommand struct {
	OrderID       string
	PaymentStatus PaymentStatus
	TransactionID string
	ActorID       string
}

// CancelOrderCommand cancels a pending order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// OrderStatsQuery scopes a statistics read. An empty SellerID aggregates the
// whole store; From/To bound the window when set.
type OrderStatsQuery struct {
	SellerID string
	From     *time.Time
	To       *time.Time
}

// OrderStats summarises order volume and revenue. Amounts are in the smallest
// currency unit. Revenue counts completed orders only; for a seller it sums
// that seller's own lines rather than the full order totals.
type OrderStats struct {
	TotalOrders       int64
	StatusCounts      map[OrderStatus]int64
	TotalRevenue      int64
	AverageOrderValue int64
	CompletionRate    float64
	CancellationRate  float64
}

// WebhookOutcome reports what a webhook delivery did to the referenced order.
type WebhookOutcome struct {
	OrderID       string
	OrderNumber   string
	ResultCode    string
	Applied       bool
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus
}

// ExportResult summarises one batch export run.
type ExportResult struct {
	ObjectName string
	OrderCount int
	RowCount   int
	Skipped    bool
}
