package repositories

import (
	"context"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides query helpers for users, sellers, and the exporter.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update persists the order only when the stored version matches
	// order.Version; on success the stored version is order.Version+1.
	// A mismatch surfaces as a RepositoryError with IsConflict.
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByCheckoutID(ctx context.Context, checkoutID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	// Tally aggregates the count and totalAmount sum of orders matching the
	// filter without loading the documents.
	Tally(ctx context.Context, filter OrderTallyFilter) (OrderTally, error)
	ListUnexported(ctx context.Context, limit int) ([]domain.Order, error)
	// MarkExported flips Exported to true for every listed order in a single
	// atomic write. Partial marking must not be observable.
	MarkExported(ctx context.Context, orderIDs []string) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderTallyFilter scopes an aggregate count/sum over orders.
type OrderTallyFilter struct {
	SellerID  string
	Status    []domain.OrderStatus
	DateRange domain.RangeQuery[time.Time]
}

// OrderTally holds the aggregate results for one tally query. AmountSum is
// the sum of order totals in the smallest currency unit.
type OrderTally struct {
	Count     int64
	AmountSum int64
}

// OrderListFilter narrows order listings for user, seller, and admin queries.
type OrderListFilter struct {
	UserID     string
	SellerID   string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
