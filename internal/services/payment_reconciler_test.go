package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/payments"
	"github.com/fourj/orderservice/internal/repositories"
)

func verifiedWebhook(data payments.WebhookData) *stubGateway {
	return &stubGateway{verifyFn: func([]byte) (payments.WebhookData, bool, error) {
		return data, true, nil
	}}
}

func pendingOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "000123",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "p-1", Quantity: 2, UnitPrice: 10, Subtotal: 20, SellerID: "s-1"},
			{ProductID: "p-2", Quantity: 1, UnitPrice: 5, Subtotal: 5, SellerID: "s-2"},
		},
		Payment: domain.PaymentInfo{
			Method: domain.PaymentMethodCreditCard,
			Status: domain.PaymentStatusPending,
		},
	}
}

func TestProcessWebhookSuccessSettlesPendingOrder(t *testing.T) {
	order := pendingOrder()
	var persisted *domain.Order
	repo := &stubOrderRepo{
		findNumberFn: func(_ context.Context, number string) (domain.Order, error) {
			if number != "000123" {
				return domain.Order{}, repoErr{notFound: true}
			}
			return order, nil
		},
		updateFn: func(_ context.Context, updated domain.Order) error {
			persisted = &updated
			return nil
		},
	}
	var deltas []int
	products := &stubProductClient{stockFn: func(_ context.Context, _ string, delta int) (bool, error) {
		deltas = append(deltas, delta)
		return true, nil
	}}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:   repo,
		Gateway:  verifiedWebhook(payments.WebhookData{OrderCode: 123, ResultCode: payments.ResultCodeSuccess, Reference: "txn-9"}),
		Products: products,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("ProcessWebhook returned error: %v", err)
	}

	if !outcome.Applied {
		t.Fatal("expected webhook to apply")
	}
	if outcome.OrderStatus != domain.OrderStatusProcessing {
		t.Fatalf("order status = %s, want PROCESSING", outcome.OrderStatus)
	}
	if outcome.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("payment status = %s, want COMPLETED", outcome.PaymentStatus)
	}
	if persisted == nil {
		t.Fatal("expected order persisted")
	}
	if persisted.Payment.TransactionID != "txn-9" {
		t.Fatalf("transaction id = %q, want txn-9", persisted.Payment.TransactionID)
	}
	if persisted.Payment.PaymentDate == nil || !persisted.Payment.PaymentDate.Equal(fixedClock()) {
		t.Fatalf("payment date not stamped: %#v", persisted.Payment.PaymentDate)
	}
	if len(deltas) != 2 || deltas[0] != -2 || deltas[1] != -1 {
		t.Fatalf("stock deltas = %v, want [-2 -1]", deltas)
	}
}

func TestProcessWebhookReplayIsNoop(t *testing.T) {
	settled := pendingOrder()
	paid := fixedClock().Add(-time.Hour)
	settled.Status = domain.OrderStatusProcessing
	settled.Payment.Status = domain.PaymentStatusCompleted
	settled.Payment.TransactionID = "txn-9"
	settled.Payment.PaymentDate = &paid

	updates := 0
	repo := &stubOrderRepo{
		findNumberFn: func(context.Context, string) (domain.Order, error) {
			return settled, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}
	decrements := 0
	products := &stubProductClient{stockFn: func(context.Context, string, int) (bool, error) {
		decrements++
		return true, nil
	}}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:   repo,
		Gateway:  verifiedWebhook(payments.WebhookData{OrderCode: 123, ResultCode: payments.ResultCodeSuccess, Reference: "txn-9"}),
		Products: products,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("ProcessWebhook returned error: %v", err)
	}

	if outcome.Applied {
		t.Fatal("replayed webhook must not apply")
	}
	if updates != 0 {
		t.Fatalf("expected no persistence on replay, got %d updates", updates)
	}
	if decrements != 0 {
		t.Fatalf("expected no stock movement on replay, got %d decrements", decrements)
	}
}

func TestProcessWebhookCancelledCode(t *testing.T) {
	order := pendingOrder()
	var persisted *domain.Order
	repo := &stubOrderRepo{
		findNumberFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(_ context.Context, updated domain.Order) error {
			persisted = &updated
			return nil
		},
	}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:  repo,
		Gateway: verifiedWebhook(payments.WebhookData{OrderCode: 123, ResultCode: payments.ResultCodeCancelled}),
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("ProcessWebhook returned error: %v", err)
	}

	if outcome.OrderStatus != domain.OrderStatusCancelled || outcome.PaymentStatus != domain.PaymentStatusCancelled {
		t.Fatalf("outcome = %+v, want cancelled order and payment", outcome)
	}
	if persisted == nil || persisted.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order persisted, got %#v", persisted)
	}
}

func TestProcessWebhookExpiredLeavesSettledOrderAlone(t *testing.T) {
	shipped := pendingOrder()
	shipped.Status = domain.OrderStatusShipped
	shipped.Payment.Status = domain.PaymentStatusCompleted

	updates := 0
	repo := &stubOrderRepo{
		findNumberFn: func(context.Context, string) (domain.Order, error) {
			return shipped, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:  repo,
		Gateway: verifiedWebhook(payments.WebhookData{OrderCode: 123, ResultCode: payments.ResultCodeExpired}),
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("ProcessWebhook returned error: %v", err)
	}

	if outcome.Applied || updates != 0 {
		t.Fatalf("late expiry must not touch a settled order (applied=%v updates=%d)", outcome.Applied, updates)
	}
	if outcome.OrderStatus != domain.OrderStatusShipped {
		t.Fatalf("order status = %s, want SHIPPED untouched", outcome.OrderStatus)
	}
}

func TestProcessWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	repo := &stubOrderRepo{}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:  repo,
		Gateway: verifiedWebhook(payments.WebhookData{OrderCode: 999, ResultCode: payments.ResultCodeSuccess}),
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unknown order should be acknowledged, got error: %v", err)
	}
	if outcome.Applied || outcome.OrderID != "" {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
}

func TestProcessWebhookRejectsBadSignature(t *testing.T) {
	lookups := 0
	repo := &stubOrderRepo{
		findNumberFn: func(context.Context, string) (domain.Order, error) {
			lookups++
			return domain.Order{}, repoErr{notFound: true}
		},
	}
	gateway := &stubGateway{verifyFn: func([]byte) (payments.WebhookData, bool, error) {
		return payments.WebhookData{}, false, nil
	}}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{Orders: repo, Gateway: gateway, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("bad signature should be acknowledged, got error: %v", err)
	}
	if outcome.Applied || lookups != 0 {
		t.Fatal("unverified payload must not be trusted")
	}
}

func TestProcessWebhookRetriesOnceOnVersionConflict(t *testing.T) {
	stale := pendingOrder()
	fresh := pendingOrder()
	fresh.Version = 3

	updates := 0
	var persisted *domain.Order
	repo := &stubOrderRepo{
		findNumberFn: func(context.Context, string) (domain.Order, error) {
			return stale, nil
		},
		findFn: func(context.Context, string) (domain.Order, error) {
			return fresh, nil
		},
		updateFn: func(_ context.Context, updated domain.Order) error {
			updates++
			if updates == 1 {
				return repoErr{conflict: true}
			}
			persisted = &updated
			return nil
		},
	}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:  repo,
		Gateway: verifiedWebhook(payments.WebhookData{OrderCode: 123, ResultCode: payments.ResultCodeSuccess, Reference: "txn-1"}),
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.ProcessWebhook(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("ProcessWebhook returned error: %v", err)
	}

	if !outcome.Applied {
		t.Fatal("expected retry to apply the webhook")
	}
	if updates != 2 {
		t.Fatalf("updates = %d, want 2", updates)
	}
	if persisted == nil || persisted.Version != 3 {
		t.Fatalf("retry must reapply on the fresh read, got %#v", persisted)
	}
}

var _ repositories.OrderRepository = (*stubOrderRepo)(nil)

func TestSyncPaymentStatusSettlesPaidLink(t *testing.T) {
	order := pendingOrder()
	order.Payment.PaymentLinkID = "link_1"

	var persisted *domain.Order
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != order.ID {
				return domain.Order{}, repoErr{notFound: true}
			}
			return order, nil
		},
		updateFn: func(_ context.Context, updated domain.Order) error {
			persisted = &updated
			return nil
		},
	}
	gateway := &stubGateway{getFn: func(_ context.Context, linkID string) (payments.PaymentLink, error) {
		if linkID != "link_1" {
			return payments.PaymentLink{}, payments.ErrLinkNotFound
		}
		return payments.PaymentLink{ID: linkID, OrderCode: 123, Status: "PAID"}, nil
	}}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:  repo,
		Gateway: gateway,
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.SyncPaymentStatus(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("SyncPaymentStatus returned error: %v", err)
	}

	if !outcome.Applied {
		t.Fatal("expected poll to apply the settlement")
	}
	if outcome.OrderStatus != domain.OrderStatusProcessing || outcome.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if persisted == nil || persisted.Payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected settled order persisted, got %#v", persisted)
	}
}

func TestSyncPaymentStatusPendingLinkIsNoop(t *testing.T) {
	order := pendingOrder()
	order.Payment.PaymentLinkID = "link_1"

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(_ context.Context, _ domain.Order) error {
			t.Fatal("pending link must not persist anything")
			return nil
		},
	}
	gateway := &stubGateway{getFn: func(_ context.Context, linkID string) (payments.PaymentLink, error) {
		return payments.PaymentLink{ID: linkID, OrderCode: 123, Status: "PENDING"}, nil
	}}

	rec, err := NewPaymentReconciler(PaymentReconcilerDeps{Orders: repo, Gateway: gateway, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}

	outcome, err := rec.SyncPaymentStatus(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("SyncPaymentStatus returned error: %v", err)
	}
	if outcome.Applied {
		t.Fatal("expected no change for a still-pending link")
	}
	if outcome.OrderStatus != domain.OrderStatusPending {
		t.Fatalf("order status = %s, want PENDING", outcome.OrderStatus)
	}
}
