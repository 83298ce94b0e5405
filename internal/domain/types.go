package domain

import (
	"time"
)

// Pagination defines standard paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is created and awaits payment confirmation.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing indicates payment is settled (or COD accepted) and fulfillment can begin.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order has reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCompleted indicates post-delivery confirmation; terminal except for refunds.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was cancelled; terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded indicates the order was refunded after delivery or completion; terminal.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// PaymentStatus enumerates settlement states for an order's payment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not settled yet.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusCompleted indicates the payment settled successfully.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusCancelled indicates the payment was cancelled or expired.
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentMethod enumerates the supported payment instruments.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery; no gateway interaction.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodCreditCard settles through the payment gateway.
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	// PaymentMethodBankTransfer settles through the payment gateway.
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	// PaymentMethodPayPal settles through the payment gateway.
	PaymentMethodPayPal PaymentMethod = "PAYPAL"
)

// RequiresGateway reports whether the method needs a gateway checkout link.
func (m PaymentMethod) RequiresGateway() bool {
	return m != PaymentMethodCOD
}

// Order is the persisted aggregate representing one checkout's committed purchase intent.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CheckoutID      string
	Status          OrderStatus
	TotalAmount     int64
	Items           []OrderItem
	ShippingAddress string
	Payment         PaymentInfo
	Notes           string
	Exported        bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// OrderItem mirrors a product line at the time of checkout; immutable after creation.
type OrderItem struct {
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
	Subtotal    int64
	SellerID    string
}

// PaymentInfo tracks gateway artifacts and settlement state for one order.
type PaymentInfo struct {
	Method           PaymentMethod
	Status           PaymentStatus
	TransactionID    string
	PaymentLinkID    string
	CheckoutURL      string
	GatewayOrderCode int64
	PaymentDate      *time.Time
}

// ItemsSubtotal returns the sum of item subtotals in the smallest currency unit.
func (o Order) ItemsSubtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal
	}
	return total
}

// Clone returns a deep copy so callers can mutate without aliasing repository state.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	if o.CompletedAt != nil {
		ts := *o.CompletedAt
		out.CompletedAt = &ts
	}
	if o.Payment.PaymentDate != nil {
		ts := *o.Payment.PaymentDate
		out.Payment.PaymentDate = &ts
	}
	return out
}

// CheckoutEvent is the consumed bus payload that triggers order creation.
type CheckoutEvent struct {
	CheckoutID      string
	UserID          string
	Items           []CheckoutEventItem
	ShippingAddress string
	PaymentMethod   PaymentMethod
	Notes           string
}

// CheckoutEventItem is one requested line in a checkout event.
type CheckoutEventItem struct {
	ProductID   string
	ProductName string
	Price       int64
	Quantity    int
}

// ProductSnapshot is the authoritative product view fetched during validation.
type ProductSnapshot struct {
	ID       string
	Name     string
	Price    int64
	Stock    int
	SellerID string
}
