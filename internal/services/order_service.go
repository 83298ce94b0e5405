package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fourj/orderservice/internal/clients"
	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/payments"
	"github.com/fourj/orderservice/internal/platform/idempotency"
	"github.com/fourj/orderservice/internal/platform/textutil"
	"github.com/fourj/orderservice/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent write raced this one; callers may re-read and retry.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderEmptyCart rejects creation requests without any line items.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderProductNotFound indicates a requested product is missing from the catalog.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderPriceMismatch indicates the requested unit price disagrees with the catalog.
	ErrOrderPriceMismatch = errors.New("order: price mismatch")
	// ErrOrderInsufficientStock indicates the catalog cannot cover a requested quantity.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
)

const (
	orderIDPrefix      = "ord_"
	orderEventIDPrefix = "evt_"

	paymentLinkExpiry     = 5 * time.Minute
	orderNumberAttempts   = 10
	checkoutDedupTTL      = 24 * time.Hour
	checkoutDedupKeyScope = "checkout:"
)

// Order lifecycle event types published on the order topic.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventCancelled     = "order.cancelled"
)

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Gateway      payments.Gateway
	Products     ProductClient
	Cart         CartClient
	Exports      ExportService
	Events       OrderEventPublisher
	Reservations idempotency.Store
	ReturnURL    string
	CancelURL    string
	Clock        func() time.Time
	IDGenerator  func() string
	NumberSource func() int
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	gateway      payments.Gateway
	products     ProductClient
	cart         CartClient
	exports      ExportService
	events       OrderEventPublisher
	reservations idempotency.Store
	returnURL    string
	cancelURL    string
	clock        func() time.Time
	newID        func() string
	nextNumber   func() int
	logger       func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product client is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	nextNumber := deps.NumberSource
	if nextNumber == nil {
		nextNumber = func() int {
			return rand.IntN(1_000_000)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:       deps.Orders,
		gateway:      deps.Gateway,
		products:     deps.Products,
		cart:         deps.Cart,
		exports:      deps.Exports,
		events:       deps.Events,
		reservations: deps.Reservations,
		returnURL:    strings.TrimSpace(deps.ReturnURL),
		cancelURL:    strings.TrimSpace(deps.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		nextNumber: nextNumber,
		logger:     logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	order, err := s.createOrder(ctx, cmd)
	if err != nil {
		return Order{}, err
	}

	if s.cart != nil {
		if err := s.cart.ClearCart(ctx, order.UserID, cmd.AuthToken); err != nil {
			s.logger(ctx, "order.cart_clear.failed", map[string]any{
				"order":  order.ID,
				"userId": order.UserID,
				"error":  err.Error(),
			})
		}
	}

	return order, nil
}

func (s *orderService) CreateFromEvent(ctx context.Context, event CheckoutEvent) (Order, error) {
	checkoutID := strings.TrimSpace(event.CheckoutID)
	if checkoutID == "" {
		return Order{}, fmt.Errorf("%w: checkout id is required", ErrOrderInvalidInput)
	}

	if existing, err := s.orders.FindByCheckoutID(ctx, checkoutID); err == nil {
		s.logger(ctx, "order.checkout_event.duplicate", map[string]any{
			"checkoutId": checkoutID,
			"order":      existing.ID,
		})
		return existing, nil
	} else if !isRepoNotFound(err) {
		return Order{}, s.mapRepositoryError(err)
	}

	dedupKey := checkoutDedupKeyScope + checkoutID
	if s.reservations != nil {
		reservation, err := s.reservations.Reserve(ctx, dedupKey, checkoutID, s.clock(), checkoutDedupTTL)
		if err != nil {
			if errors.Is(err, idempotency.ErrFingerprintMismatch) {
				return Order{}, fmt.Errorf("%w: checkout id reused with different payload", ErrOrderConflict)
			}
			return Order{}, fmt.Errorf("order: reserve checkout id: %w", err)
		}
		switch reservation.State {
		case idempotency.ReservationStateCompleted:
			orderID := strings.TrimSpace(string(reservation.Record.ResponseBody))
			if orderID != "" {
				if order, err := s.orders.FindByID(ctx, orderID); err == nil {
					return order, nil
				}
			}
			// Stale reservation without a resolvable order; fall through and recreate.
		case idempotency.ReservationStatePending:
			return Order{}, fmt.Errorf("%w: checkout %s is being processed", ErrOrderConflict, checkoutID)
		}
	}

	items := make([]CreateOrderItem, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, CreateOrderItem{
			ProductID: item.ProductID,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
		})
	}

	order, err := s.createOrder(ctx, CreateOrderCommand{
		UserID:          event.UserID,
		Items:           items,
		ShippingAddress: event.ShippingAddress,
		PaymentMethod:   event.PaymentMethod,
		Notes:           event.Notes,
		CheckoutID:      checkoutID,
	})
	if err != nil {
		if s.reservations != nil {
			if relErr := s.reservations.Release(ctx, dedupKey, checkoutID); relErr != nil {
				s.logger(ctx, "order.checkout_event.release_failed", map[string]any{
					"checkoutId": checkoutID,
					"error":      relErr.Error(),
				})
			}
		}
		return Order{}, err
	}

	if s.reservations != nil {
		saveErr := s.reservations.SaveResponse(ctx, dedupKey, checkoutID, idempotency.Response{
			Status: 200,
			Body:   []byte(order.ID),
		}, s.clock(), checkoutDedupTTL)
		if saveErr != nil {
			s.logger(ctx, "order.checkout_event.save_failed", map[string]any{
				"checkoutId": checkoutID,
				"order":      order.ID,
				"error":      saveErr.Error(),
			})
		}
	}

	return order, nil
}

// createOrder runs the shared validation/persistence pipeline behind Create
// and CreateFromEvent. Validation failures leave no trace; once the order is
// inserted only the payment-link branch may still fail the call.
func (s *orderService) createOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}
	address := textutil.SanitizeText(cmd.ShippingAddress)
	if address == "" {
		return Order{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	if !validPaymentMethod(method) {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if method != domain.PaymentMethodCOD && s.gateway == nil {
		return Order{}, fmt.Errorf("%w: payment method %s is not available", ErrOrderInvalidInput, method)
	}

	items, err := s.validateItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		UserID:          userID,
		CheckoutID:      strings.TrimSpace(cmd.CheckoutID),
		Status:          domain.OrderStatusPending,
		Items:           items,
		ShippingAddress: address,
		Notes:           textutil.SanitizeOptional(cmd.Notes),
		Payment: PaymentInfo{
			Method: method,
			Status: domain.PaymentStatusPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.TotalAmount = order.ItemsSubtotal()

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.exportSingle(ctx, order)
	s.publishEvent(ctx, OrderEventCreated, order)

	if method == domain.PaymentMethodCOD {
		return s.transitionPersisted(ctx, order, domain.OrderStatusProcessing, "")
	}
	return s.attachPaymentLink(ctx, order)
}

func (s *orderService) validateItems(ctx context.Context, requested []CreateOrderItem) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(requested))
	for _, line := range requested {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %s must be at least 1", ErrOrderInvalidInput, productID)
		}

		snapshot, err := s.products.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, clients.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
			}
			return nil, fmt.Errorf("order: fetch product %s: %w", productID, err)
		}
		if line.UnitPrice != snapshot.Price {
			return nil, fmt.Errorf("%w: product %s priced at %d, requested %d", ErrOrderPriceMismatch, productID, snapshot.Price, line.UnitPrice)
		}
		if line.Quantity > snapshot.Stock {
			return nil, fmt.Errorf("%w: product %s has %d in stock, requested %d", ErrOrderInsufficientStock, productID, snapshot.Stock, line.Quantity)
		}

		items = append(items, OrderItem{
			ProductID:   productID,
			ProductName: snapshot.Name,
			UnitPrice:   snapshot.Price,
			Quantity:    line.Quantity,
			Subtotal:    snapshot.Price * int64(line.Quantity),
			SellerID:    snapshot.SellerID,
		})
	}
	return items, nil
}

func (s *orderService) attachPaymentLink(ctx context.Context, order Order) (Order, error) {
	orderCode, err := strconv.ParseInt(order.OrderNumber, 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("order: order number %q is not numeric: %w", order.OrderNumber, err)
	}

	linkItems := make([]payments.LinkItem, 0, len(order.Items))
	for _, item := range order.Items {
		linkItems = append(linkItems, payments.LinkItem{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}

	link, err := s.gateway.CreatePaymentLink(ctx, payments.CreateLinkRequest{
		OrderCode:   orderCode,
		Amount:      order.TotalAmount,
		Description: "Order " + order.OrderNumber,
		Items:       linkItems,
		ReturnURL:   s.returnURL,
		CancelURL:   s.cancelURL,
		ExpiredAt:   s.clock().Add(paymentLinkExpiry),
	})
	if err != nil {
		return Order{}, fmt.Errorf("order: create payment link: %w", err)
	}

	order.Payment.PaymentLinkID = link.ID
	order.Payment.CheckoutURL = link.CheckoutURL
	order.Payment.GatewayOrderCode = link.OrderCode
	if order.Payment.GatewayOrderCode == 0 {
		order.Payment.GatewayOrderCode = orderCode
	}
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.Version++
	return order, nil
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, query GetOrderByNumberQuery) (Order, error) {
	number := strings.TrimSpace(query.OrderNumber)
	if number == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
	}
	return order, nil
}

func (s *orderService) ListByUser(ctx context.Context, query ListUserOrdersQuery) ([]Order, error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) ListBySeller(ctx context.Context, query ListSellerOrdersQuery) ([]Order, error) {
	sellerID := strings.TrimSpace(query.SellerID)
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		SellerID:   sellerID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	// Sellers only see their own lines of each order.
	filtered := make([]Order, 0, len(orders))
	for _, order := range orders {
		view := order.Clone()
		lines := view.Items[:0]
		for _, item := range view.Items {
			if item.SellerID == sellerID {
				lines = append(lines, item)
			}
		}
		view.Items = lines
		filtered = append(filtered, view)
	}
	return filtered, nil
}

func (s *orderService) List(ctx context.Context, query ListOrdersQuery) ([]Order, error) {
	filter := repositories.OrderListFilter{
		Status:     query.Status,
		Pagination: query.Pagination,
	}
	filter.DateRange.From = query.From
	filter.DateRange.To = query.To

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// statsStatuses lists the lifecycle states broken out in statistics reports.
var statsStatuses = []OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCompleted,
	domain.OrderStatusCancelled,
	domain.OrderStatusRefunded,
}

func (s *orderService) Stats(ctx context.Context, query OrderStatsQuery) (OrderStats, error) {
	sellerID := strings.TrimSpace(query.SellerID)

	var dateRange domain.RangeQuery[time.Time]
	dateRange.From = query.From
	dateRange.To = query.To

	stats := OrderStats{StatusCounts: make(map[OrderStatus]int64, len(statsStatuses))}
	var completedSum int64
	for _, status := range statsStatuses {
		tally, err := s.orders.Tally(ctx, repositories.OrderTallyFilter{
			SellerID:  sellerID,
			Status:    []domain.OrderStatus{status},
			DateRange: dateRange,
		})
		if err != nil {
			return OrderStats{}, s.mapRepositoryError(err)
		}
		stats.StatusCounts[status] = tally.Count
		stats.TotalOrders += tally.Count
		if status == domain.OrderStatusCompleted {
			completedSum = tally.AmountSum
		}
	}

	if sellerID == "" {
		stats.TotalRevenue = completedSum
	} else {
		// Order totals overcount multi-seller orders; sum the seller's own
		// lines from the completed orders instead.
		revenue, err := s.sellerRevenue(ctx, sellerID, dateRange)
		if err != nil {
			return OrderStats{}, err
		}
		stats.TotalRevenue = revenue
	}

	if stats.TotalOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue / stats.TotalOrders
		stats.CompletionRate = float64(stats.StatusCounts[domain.OrderStatusCompleted]) / float64(stats.TotalOrders)
		stats.CancellationRate = float64(stats.StatusCounts[domain.OrderStatusCancelled]) / float64(stats.TotalOrders)
	}
	return stats, nil
}

func (s *orderService) sellerRevenue(ctx context.Context, sellerID string, dateRange domain.RangeQuery[time.Time]) (int64, error) {
	filter := repositories.OrderListFilter{
		SellerID: sellerID,
		Status:   []domain.OrderStatus{domain.OrderStatusCompleted},
	}
	filter.DateRange = dateRange

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	var revenue int64
	for _, order := range orders {
		for _, item := range order.Items {
			if item.SellerID == sellerID {
				revenue += item.Subtotal
			}
		}
	}
	return revenue, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.TargetStatus))))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if sellerID := strings.TrimSpace(cmd.SellerID); sellerID != "" && !orderContainsSeller(order, sellerID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	updated, err := s.transitionPersisted(ctx, order, target, "")
	if err != nil {
		return Order{}, err
	}
	s.publishEvent(ctx, OrderEventStatusChanged, updated)
	return updated, nil
}

func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := PaymentStatus(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentStatus))))
	switch target {
	case domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusCancelled:
	default:
		return Order{}, fmt.Errorf("%w: unsupported payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	order.Payment.Status = target
	if txID := strings.TrimSpace(cmd.TransactionID); txID != "" {
		order.Payment.TransactionID = txID
	}
	if target == domain.PaymentStatusCompleted && order.Payment.PaymentDate == nil {
		order.Payment.PaymentDate = &now
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.Version++
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if order.Payment.Method != domain.PaymentMethodCOD && order.Payment.PaymentLinkID != "" && s.gateway != nil {
		if err := s.gateway.CancelPaymentLink(ctx, order.Payment.PaymentLinkID, cmd.Reason); err != nil {
			s.logger(ctx, "order.payment_link.cancel_failed", map[string]any{
				"order": order.ID,
				"link":  order.Payment.PaymentLinkID,
				"error": err.Error(),
			})
		}
	}

	updated, err := s.transitionPersisted(ctx, order, domain.OrderStatusCancelled, textutil.SanitizeOptional(cmd.Reason))
	if err != nil {
		return Order{}, err
	}
	s.publishEvent(ctx, OrderEventCancelled, updated)
	return updated, nil
}

// transitionPersisted applies the status transition in memory and persists the
// result with the version check. The returned order reflects the stored state.
func (s *orderService) transitionPersisted(ctx context.Context, order Order, target OrderStatus, note string) (Order, error) {
	if err := applyTransition(&order, target, note, s.clock()); err != nil {
		return Order{}, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.Version++
	return order, nil
}

// applyTransition mutates the order for a status change: table check, payment
// synchronisation, note append, completion stamp. It never persists.
func applyTransition(order *domain.Order, target OrderStatus, note string, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	if note != "" {
		if order.Notes != "" {
			order.Notes += "\n"
		}
		order.Notes += note
	}
	if target == domain.OrderStatusCompleted && order.CompletedAt == nil {
		ts := now
		order.CompletedAt = &ts
	}

	synchronizePayment(order, target, now)
	return nil
}

var allowedTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {domain.OrderStatusCompleted, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusCompleted:  {domain.OrderStatusRefunded},
}

func canTransition(current, target OrderStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// synchronizePayment keeps the payment leg consistent with a status change.
func synchronizePayment(order *domain.Order, target OrderStatus, now time.Time) {
	switch target {
	case domain.OrderStatusProcessing:
		if order.Payment.Method == domain.PaymentMethodCOD {
			order.Payment.Status = domain.PaymentStatusPending
		}
	case domain.OrderStatusCompleted:
		if order.Payment.Method == domain.PaymentMethodCOD {
			order.Payment.Status = domain.PaymentStatusCompleted
			if order.Payment.PaymentDate == nil {
				ts := now
				order.Payment.PaymentDate = &ts
			}
		}
	case domain.OrderStatusCancelled:
		if order.Payment.Status == domain.PaymentStatusPending {
			order.Payment.Status = domain.PaymentStatusCancelled
		}
	case domain.OrderStatusRefunded:
		order.Payment.Status = domain.PaymentStatusCancelled
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		candidate := fmt.Sprintf("%06d", s.nextNumber()%1_000_000)
		_, err := s.orders.FindByOrderNumber(ctx, candidate)
		if err == nil {
			continue
		}
		if isRepoNotFound(err) {
			return candidate, nil
		}
		return "", s.mapRepositoryError(err)
	}
	return "", fmt.Errorf("%w: could not allocate a free order number", ErrOrderConflict)
}

func (s *orderService) exportSingle(ctx context.Context, order Order) {
	if s.exports == nil {
		return
	}
	if _, err := s.exports.ExportOrder(ctx, order.ID); err != nil {
		s.logger(ctx, "order.export.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		EventID:     orderEventIDPrefix + s.newID(),
		EventType:   eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		OccurredAt:  s.clock().Format(time.RFC3339),
	})
	if err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":  eventType,
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func validPaymentMethod(method PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodCreditCard, domain.PaymentMethodBankTransfer, domain.PaymentMethodPayPal:
		return true
	}
	return false
}

func orderContainsSeller(order Order, sellerID string) bool {
	for _, item := range order.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
