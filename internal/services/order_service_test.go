package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fourj/orderservice/internal/clients"
	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/payments"
	"github.com/fourj/orderservice/internal/platform/idempotency"
	"github.com/fourj/orderservice/internal/repositories"
)

type repoErr struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoErr) Error() string       { return "repository error" }
func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return e.conflict }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = repoErr{}

type stubOrderRepo struct {
	insertFn         func(context.Context, domain.Order) error
	updateFn         func(context.Context, domain.Order) error
	findFn           func(context.Context, string) (domain.Order, error)
	findNumberFn     func(context.Context, string) (domain.Order, error)
	findCheckoutFn   func(context.Context, string) (domain.Order, error)
	listFn           func(context.Context, repositories.OrderListFilter) ([]domain.Order, error)
	tallyFn          func(context.Context, repositories.OrderTallyFilter) (repositories.OrderTally, error)
	listUnexportedFn func(context.Context, int) ([]domain.Order, error)
	markFn           func(context.Context, []string) error
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, repoErr{notFound: true}
}

func (s *stubOrderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findNumberFn != nil {
		return s.findNumberFn(ctx, orderNumber)
	}
	return domain.Order{}, repoErr{notFound: true}
}

func (s *stubOrderRepo) FindByCheckoutID(ctx context.Context, checkoutID string) (domain.Order, error) {
	if s.findCheckoutFn != nil {
		return s.findCheckoutFn(ctx, checkoutID)
	}
	return domain.Order{}, repoErr{notFound: true}
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubOrderRepo) Tally(ctx context.Context, filter repositories.OrderTallyFilter) (repositories.OrderTally, error) {
	if s.tallyFn != nil {
		return s.tallyFn(ctx, filter)
	}
	return repositories.OrderTally{}, nil
}

func (s *stubOrderRepo) ListUnexported(ctx context.Context, limit int) ([]domain.Order, error) {
	if s.listUnexportedFn != nil {
		return s.listUnexportedFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubOrderRepo) MarkExported(ctx context.Context, orderIDs []string) error {
	if s.markFn != nil {
		return s.markFn(ctx, orderIDs)
	}
	return nil
}

type stubProductClient struct {
	getFn   func(context.Context, string) (domain.ProductSnapshot, error)
	stockFn func(context.Context, string, int) (bool, error)
}

func (s *stubProductClient) GetProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.ProductSnapshot{}, clients.ErrProductNotFound
}

func (s *stubProductClient) UpdateStock(ctx context.Context, productID string, delta int) (bool, error) {
	if s.stockFn != nil {
		return s.stockFn(ctx, productID, delta)
	}
	return true, nil
}

type stubCartClient struct {
	clearFn func(context.Context, string, string) error
}

func (s *stubCartClient) ClearCart(ctx context.Context, userID, token string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID, token)
	}
	return nil
}

type stubGateway struct {
	createFn func(context.Context, payments.CreateLinkRequest) (payments.PaymentLink, error)
	cancelFn func(context.Context, string, string) error
	getFn    func(context.Context, string) (payments.PaymentLink, error)
	verifyFn func([]byte) (payments.WebhookData, bool, error)
}

func (s *stubGateway) CreatePaymentLink(ctx context.Context, req payments.CreateLinkRequest) (payments.PaymentLink, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return payments.PaymentLink{ID: "link_1", OrderCode: req.OrderCode, CheckoutURL: "https://pay.example/link_1"}, nil
}

func (s *stubGateway) CancelPaymentLink(ctx context.Context, linkID, reason string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, linkID, reason)
	}
	return nil
}

func (s *stubGateway) GetPaymentLink(ctx context.Context, linkID string) (payments.PaymentLink, error) {
	if s.getFn != nil {
		return s.getFn(ctx, linkID)
	}
	return payments.PaymentLink{}, payments.ErrLinkNotFound
}

func (s *stubGateway) VerifyWebhook(payload []byte) (payments.WebhookData, bool, error) {
	if s.verifyFn != nil {
		return s.verifyFn(payload)
	}
	return payments.WebhookData{}, false, errors.New("not implemented")
}

type captureOrderEvents struct {
	messages []OrderEventMessage
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	c.messages = append(c.messages, message)
	return fmt.Sprintf("msg-%d", len(c.messages)), nil
}

type stubExportService struct {
	batchFn  func(context.Context) (ExportResult, error)
	singleFn func(context.Context, string) (string, error)
}

func (s *stubExportService) ExportBatch(ctx context.Context) (ExportResult, error) {
	if s.batchFn != nil {
		return s.batchFn(ctx)
	}
	return ExportResult{}, nil
}

func (s *stubExportService) ExportOrder(ctx context.Context, orderID string) (string, error) {
	if s.singleFn != nil {
		return s.singleFn(ctx, orderID)
	}
	return "", nil
}

type stubReservationStore struct {
	reserveFn func(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (idempotency.Reservation, error)
	saved     []string
	released  []string
}

func (s *stubReservationStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (idempotency.Reservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, key, fingerprint, now, ttl)
	}
	return idempotency.Reservation{State: idempotency.ReservationStateNew}, nil
}

func (s *stubReservationStore) SaveResponse(_ context.Context, key, _ string, resp idempotency.Response, _ time.Time, _ time.Duration) error {
	s.saved = append(s.saved, key+"="+string(resp.Body))
	return nil
}

func (s *stubReservationStore) Release(_ context.Context, key, _ string) error {
	s.released = append(s.released, key)
	return nil
}

func (s *stubReservationStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func fixedClock() time.Time {
	return time.Date(2025, 5, 1, 9, 30, 15, 0, time.UTC)
}

func sequenceIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%02d", prefix, n)
	}
}

func catalogWith(snapshots map[string]domain.ProductSnapshot) *stubProductClient {
	return &stubProductClient{
		getFn: func(_ context.Context, productID string) (domain.ProductSnapshot, error) {
			snapshot, ok := snapshots[productID]
			if !ok {
				return domain.ProductSnapshot{}, clients.ErrProductNotFound
			}
			return snapshot, nil
		},
	}
}

func TestCreateOrderCODTransitionsToProcessing(t *testing.T) {
	var inserted *domain.Order
	var updated *domain.Order
	repo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = &order
			return nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	events := &captureOrderEvents{}
	var exported []string
	var cleared []string

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Products: catalogWith(map[string]domain.ProductSnapshot{
			"p-1": {ID: "p-1", Name: "Mug", Price: 50_000, Stock: 10, SellerID: "seller-1"},
			"p-2": {ID: "p-2", Name: "Plate", Price: 80_000, Stock: 4, SellerID: "seller-2"},
		}),
		Cart: &stubCartClient{clearFn: func(_ context.Context, userID, token string) error {
			cleared = append(cleared, userID+":"+token)
			return nil
		}},
		Exports: &stubExportService{singleFn: func(_ context.Context, orderID string) (string, error) {
			exported = append(exported, orderID)
			return "obj", nil
		}},
		Events:       events,
		Clock:        fixedClock,
		IDGenerator:  sequenceIDs("id"),
		NumberSource: func() int { return 4217 },
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		ShippingAddress: "12 Rue de la Paix",
		PaymentMethod:   domain.PaymentMethodCOD,
		AuthToken:       "tok",
		Items: []CreateOrderItem{
			{ProductID: "p-1", UnitPrice: 50_000, Quantity: 2},
			{ProductID: "p-2", UnitPrice: 80_000, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if inserted == nil {
		t.Fatal("expected order to be inserted")
	}
	if inserted.Status != domain.OrderStatusPending {
		t.Fatalf("inserted status = %s, want PENDING", inserted.Status)
	}
	if inserted.OrderNumber != "004217" {
		t.Fatalf("order number = %q, want 004217", inserted.OrderNumber)
	}
	if inserted.TotalAmount != 180_000 {
		t.Fatalf("total = %d, want 180000", inserted.TotalAmount)
	}
	if inserted.TotalAmount != inserted.ItemsSubtotal() {
		t.Fatalf("total %d does not match item subtotals %d", inserted.TotalAmount, inserted.ItemsSubtotal())
	}
	if inserted.Items[0].SellerID != "seller-1" || inserted.Items[1].SellerID != "seller-2" {
		t.Fatalf("seller ids not taken from catalog: %#v", inserted.Items)
	}

	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("final status = %s, want PROCESSING", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s, want PENDING", order.Payment.Status)
	}
	if updated == nil || updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected persisted transition to PROCESSING, got %#v", updated)
	}

	if len(exported) != 1 || exported[0] != order.ID {
		t.Fatalf("expected single export of %s, got %v", order.ID, exported)
	}
	if len(events.messages) == 0 || events.messages[0].EventType != OrderEventCreated {
		t.Fatalf("expected order.created event, got %#v", events.messages)
	}
	if len(cleared) != 1 || cleared[0] != "user-1:tok" {
		t.Fatalf("expected cart clear for user-1, got %v", cleared)
	}
}

func TestCreateOrderRequestsPaymentLink(t *testing.T) {
	var updated *domain.Order
	repo := &stubOrderRepo{
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	var linkReq payments.CreateLinkRequest
	gateway := &stubGateway{
		createFn: func(_ context.Context, req payments.CreateLinkRequest) (payments.PaymentLink, error) {
			linkReq = req
			return payments.PaymentLink{ID: "link_42", OrderCode: req.OrderCode, CheckoutURL: "https://pay.example/link_42"}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  repo,
		Gateway: gateway,
		Products: catalogWith(map[string]domain.ProductSnapshot{
			"p-1": {ID: "p-1", Name: "Mug", Price: 50_000, Stock: 10, SellerID: "seller-1"},
		}),
		Clock:        fixedClock,
		IDGenerator:  sequenceIDs("id"),
		NumberSource: func() int { return 123 },
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		ShippingAddress: "12 Rue de la Paix",
		PaymentMethod:   domain.PaymentMethodCreditCard,
		Items:           []CreateOrderItem{{ProductID: "p-1", UnitPrice: 50_000, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want PENDING until webhook", order.Status)
	}
	if linkReq.OrderCode != 123 {
		t.Fatalf("link order code = %d, want 123", linkReq.OrderCode)
	}
	if linkReq.Amount != 50_000 {
		t.Fatalf("link amount = %d, want 50000", linkReq.Amount)
	}
	wantExpiry := fixedClock().Add(5 * time.Minute)
	if !linkReq.ExpiredAt.Equal(wantExpiry) {
		t.Fatalf("link expiry = %s, want %s", linkReq.ExpiredAt, wantExpiry)
	}
	if order.Payment.PaymentLinkID != "link_42" || order.Payment.CheckoutURL == "" {
		t.Fatalf("link fields not stored: %#v", order.Payment)
	}
	if order.Payment.GatewayOrderCode != 123 {
		t.Fatalf("gateway order code = %d, want 123", order.Payment.GatewayOrderCode)
	}
	if updated == nil || updated.Payment.PaymentLinkID != "link_42" {
		t.Fatalf("expected link fields persisted, got %#v", updated)
	}
}

func TestCreateOrderValidationFailsFast(t *testing.T) {
	catalog := catalogWith(map[string]domain.ProductSnapshot{
		"p-1": {ID: "p-1", Name: "Mug", Price: 50_000, Stock: 2, SellerID: "seller-1"},
	})

	cases := []struct {
		name string
		cmd  CreateOrderCommand
		want error
	}{
		{
			name: "empty cart",
			cmd: CreateOrderCommand{
				UserID:          "user-1",
				ShippingAddress: "addr",
				PaymentMethod:   domain.PaymentMethodCOD,
			},
			want: ErrOrderEmptyCart,
		},
		{
			name: "unknown product",
			cmd: CreateOrderCommand{
				UserID:          "user-1",
				ShippingAddress: "addr",
				PaymentMethod:   domain.PaymentMethodCOD,
				Items:           []CreateOrderItem{{ProductID: "p-404", UnitPrice: 1, Quantity: 1}},
			},
			want: ErrOrderProductNotFound,
		},
		{
			name: "price mismatch",
			cmd: CreateOrderCommand{
				UserID:          "user-1",
				ShippingAddress: "addr",
				PaymentMethod:   domain.PaymentMethodCOD,
				Items:           []CreateOrderItem{{ProductID: "p-1", UnitPrice: 45_000, Quantity: 1}},
			},
			want: ErrOrderPriceMismatch,
		},
		{
			name: "insufficient stock",
			cmd: CreateOrderCommand{
				UserID:          "user-1",
				ShippingAddress: "addr",
				PaymentMethod:   domain.PaymentMethodCOD,
				Items:           []CreateOrderItem{{ProductID: "p-1", UnitPrice: 50_000, Quantity: 3}},
			},
			want: ErrOrderInsufficientStock,
		},
		{
			name: "unsupported method",
			cmd: CreateOrderCommand{
				UserID:          "user-1",
				ShippingAddress: "addr",
				PaymentMethod:   "CHEQUE",
				Items:           []CreateOrderItem{{ProductID: "p-1", UnitPrice: 50_000, Quantity: 1}},
			},
			want: ErrOrderInvalidInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inserts := 0
			repo := &stubOrderRepo{insertFn: func(context.Context, domain.Order) error {
				inserts++
				return nil
			}}
			svc, err := NewOrderService(OrderServiceDeps{
				Orders:   repo,
				Products: catalog,
				Clock:    fixedClock,
			})
			if err != nil {
				t.Fatalf("NewOrderService returned error: %v", err)
			}

			if _, err := svc.Create(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("Create error = %v, want %v", err, tc.want)
			}
			if inserts != 0 {
				t.Fatal("validation failure must not persist anything")
			}
		})
	}
}

func TestGenerateOrderNumberRetriesTakenNumbers(t *testing.T) {
	numbers := []int{7, 7, 8}
	idx := 0
	repo := &stubOrderRepo{
		findNumberFn: func(_ context.Context, number string) (domain.Order, error) {
			if number == "000007" {
				return domain.Order{OrderNumber: number}, nil
			}
			return domain.Order{}, repoErr{notFound: true}
		},
	}

	var inserted *domain.Order
	repo.insertFn = func(_ context.Context, order domain.Order) error {
		inserted = &order
		return nil
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Products: catalogWith(map[string]domain.ProductSnapshot{
			"p-1": {ID: "p-1", Name: "Mug", Price: 10, Stock: 5, SellerID: "s"},
		}),
		Clock: fixedClock,
		NumberSource: func() int {
			n := numbers[idx%len(numbers)]
			idx++
			return n
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	if _, err := svc.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		ShippingAddress: "addr",
		PaymentMethod:   domain.PaymentMethodCOD,
		Items:           []CreateOrderItem{{ProductID: "p-1", UnitPrice: 10, Quantity: 1}},
	}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if inserted == nil || inserted.OrderNumber != "000008" {
		t.Fatalf("expected retry to settle on 000008, got %#v", inserted)
	}
}

func TestCreateFromEventReturnsExistingOrder(t *testing.T) {
	existing := domain.Order{ID: "ord_existing", CheckoutID: "chk-1", Status: domain.OrderStatusProcessing}
	inserts := 0
	repo := &stubOrderRepo{
		findCheckoutFn: func(_ context.Context, checkoutID string) (domain.Order, error) {
			if checkoutID == "chk-1" {
				return existing, nil
			}
			return domain.Order{}, repoErr{notFound: true}
		},
		insertFn: func(context.Context, domain.Order) error {
			inserts++
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductClient{},
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromEvent(context.Background(), CheckoutEvent{
		CheckoutID:      "chk-1",
		UserID:          "user-1",
		ShippingAddress: "addr",
		PaymentMethod:   domain.PaymentMethodCOD,
		Items:           []domain.CheckoutEventItem{{ProductID: "p-1", Price: 10, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateFromEvent returned error: %v", err)
	}
	if order.ID != "ord_existing" {
		t.Fatalf("expected existing order, got %s", order.ID)
	}
	if inserts != 0 {
		t.Fatal("redelivered event must not create a second order")
	}
}

func TestCreateFromEventUsesReservation(t *testing.T) {
	reservations := &stubReservationStore{}
	repo := &stubOrderRepo{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Products: catalogWith(map[string]domain.ProductSnapshot{
			"p-1": {ID: "p-1", Name: "Mug", Price: 10, Stock: 5, SellerID: "s"},
		}),
		Reservations: reservations,
		Clock:        fixedClock,
		IDGenerator:  sequenceIDs("id"),
		NumberSource: func() int { return 42 },
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.CreateFromEvent(context.Background(), CheckoutEvent{
		CheckoutID:      "chk-2",
		UserID:          "user-1",
		ShippingAddress: "addr",
		PaymentMethod:   domain.PaymentMethodCOD,
		Items:           []domain.CheckoutEventItem{{ProductID: "p-1", Price: 10, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateFromEvent returned error: %v", err)
	}
	if order.CheckoutID != "chk-2" {
		t.Fatalf("checkout id = %q, want chk-2", order.CheckoutID)
	}
	if len(reservations.saved) != 1 || !strings.Contains(reservations.saved[0], order.ID) {
		t.Fatalf("expected reservation saved with order id, got %v", reservations.saved)
	}
}

func TestCreateFromEventPendingReservationConflicts(t *testing.T) {
	reservations := &stubReservationStore{
		reserveFn: func(context.Context, string, string, time.Time, time.Duration) (idempotency.Reservation, error) {
			return idempotency.Reservation{State: idempotency.ReservationStatePending}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:       &stubOrderRepo{},
		Products:     &stubProductClient{},
		Reservations: reservations,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.CreateFromEvent(context.Background(), CheckoutEvent{
		CheckoutID:      "chk-3",
		UserID:          "user-1",
		ShippingAddress: "addr",
		PaymentMethod:   domain.PaymentMethodCOD,
		Items:           []domain.CheckoutEventItem{{ProductID: "p-1", Price: 10, Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict while another consumer holds the key, got %v", err)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	updates := 0
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusDelivered}, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusProcessing,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if updates != 0 {
		t.Fatal("illegal transition must not persist")
	}
}

func TestUpdateStatusSellerScope(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:     "ord_1",
				Status: domain.OrderStatusProcessing,
				Items:  []domain.OrderItem{{ProductID: "p-1", SellerID: "seller-1", Quantity: 1}},
			}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusShipped,
		SellerID:     "seller-2",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign seller, got %v", err)
	}
}

func TestUpdateStatusCompletionStampsCODPayment(t *testing.T) {
	var updated *domain.Order
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord_1",
				Status:  domain.OrderStatusDelivered,
				Payment: domain.PaymentInfo{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	if order.Payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("payment status = %s, want COMPLETED", order.Payment.Status)
	}
	if order.Payment.PaymentDate == nil || !order.Payment.PaymentDate.Equal(fixedClock()) {
		t.Fatalf("payment date not stamped: %#v", order.Payment.PaymentDate)
	}
	if order.CompletedAt == nil || !order.CompletedAt.Equal(fixedClock()) {
		t.Fatalf("completedAt not stamped: %#v", order.CompletedAt)
	}
	if updated == nil || updated.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected persisted COMPLETED, got %#v", updated)
	}
}

func TestCancelVoidsOutstandingPaymentLink(t *testing.T) {
	var cancelled []string
	gateway := &stubGateway{cancelFn: func(_ context.Context, linkID, _ string) error {
		cancelled = append(cancelled, linkID)
		return nil
	}}
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:     "ord_1",
				UserID: "user-1",
				Status: domain.OrderStatusPending,
				Payment: domain.PaymentInfo{
					Method:        domain.PaymentMethodCreditCard,
					Status:        domain.PaymentStatusPending,
					PaymentLinkID: "link_7",
				},
			}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}, Gateway: gateway, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", UserID: "user-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if len(cancelled) != 1 || cancelled[0] != "link_7" {
		t.Fatalf("expected link_7 voided, got %v", cancelled)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusCancelled {
		t.Fatalf("payment status = %s, want CANCELLED", order.Payment.Status)
	}
}

func TestCancelRejectsForeignUser(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "user-1", Status: domain.OrderStatusPending}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", UserID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListBySellerFiltersForeignLines(t *testing.T) {
	repo := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			if filter.SellerID != "seller-1" {
				t.Fatalf("filter seller = %q, want seller-1", filter.SellerID)
			}
			return []domain.Order{{
				ID: "ord_1",
				Items: []domain.OrderItem{
					{ProductID: "p-1", SellerID: "seller-1", Quantity: 1},
					{ProductID: "p-2", SellerID: "seller-2", Quantity: 2},
				},
			}}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	orders, err := svc.ListBySeller(context.Background(), ListSellerOrdersQuery{SellerID: "seller-1"})
	if err != nil {
		t.Fatalf("ListBySeller returned error: %v", err)
	}
	if len(orders) != 1 || len(orders[0].Items) != 1 || orders[0].Items[0].ProductID != "p-1" {
		t.Fatalf("expected only seller-1 lines, got %#v", orders)
	}
}

func TestStatsAggregatesStatusCounts(t *testing.T) {
	counts := map[domain.OrderStatus]int64{
		domain.OrderStatusPending:   3,
		domain.OrderStatusCompleted: 5,
		domain.OrderStatusCancelled: 2,
	}
	repo := &stubOrderRepo{
		tallyFn: func(_ context.Context, filter repositories.OrderTallyFilter) (repositories.OrderTally, error) {
			if len(filter.Status) != 1 {
				t.Fatalf("expected one status per tally, got %v", filter.Status)
			}
			status := filter.Status[0]
			tally := repositories.OrderTally{Count: counts[status]}
			if status == domain.OrderStatusCompleted {
				tally.AmountSum = 500_000
			}
			return tally, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	stats, err := svc.Stats(context.Background(), OrderStatsQuery{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}

	if stats.TotalOrders != 10 {
		t.Fatalf("expected 10 orders in total, got %d", stats.TotalOrders)
	}
	if stats.StatusCounts[domain.OrderStatusCompleted] != 5 {
		t.Fatalf("expected 5 completed orders, got %d", stats.StatusCounts[domain.OrderStatusCompleted])
	}
	if stats.TotalRevenue != 500_000 {
		t.Fatalf("expected revenue 500000, got %d", stats.TotalRevenue)
	}
	if stats.AverageOrderValue != 50_000 {
		t.Fatalf("expected average order value 50000, got %d", stats.AverageOrderValue)
	}
	if stats.CompletionRate != 0.5 || stats.CancellationRate != 0.2 {
		t.Fatalf("unexpected rates: %f / %f", stats.CompletionRate, stats.CancellationRate)
	}
}

func TestStatsSellerRevenueSumsOwnLines(t *testing.T) {
	completed := domain.Order{
		ID:          "ord_1",
		Status:      domain.OrderStatusCompleted,
		TotalAmount: 260_000,
		Items: []domain.OrderItem{
			{ProductID: "p-1", Subtotal: 180_000, SellerID: "seller-1"},
			{ProductID: "p-2", Subtotal: 80_000, SellerID: "seller-2"},
		},
	}
	repo := &stubOrderRepo{
		tallyFn: func(_ context.Context, filter repositories.OrderTallyFilter) (repositories.OrderTally, error) {
			if filter.SellerID != "seller-1" {
				t.Fatalf("expected seller scope on tally, got %q", filter.SellerID)
			}
			if filter.Status[0] == domain.OrderStatusCompleted {
				return repositories.OrderTally{Count: 1, AmountSum: completed.TotalAmount}, nil
			}
			return repositories.OrderTally{}, nil
		},
		listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			if filter.SellerID != "seller-1" {
				t.Fatalf("expected seller scope on list, got %q", filter.SellerID)
			}
			if len(filter.Status) != 1 || filter.Status[0] != domain.OrderStatusCompleted {
				t.Fatalf("expected completed-only list, got %v", filter.Status)
			}
			return []domain.Order{completed}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Products: &stubProductClient{}})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	stats, err := svc.Stats(context.Background(), OrderStatsQuery{SellerID: "seller-1"})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}

	// The foreign line must not count towards the seller's revenue.
	if stats.TotalRevenue != 180_000 {
		t.Fatalf("expected revenue 180000, got %d", stats.TotalRevenue)
	}
}
