package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/payments"
	"github.com/fourj/orderservice/internal/repositories"
)

// PaymentReconcilerDeps bundles collaborators for webhook reconciliation.
type PaymentReconcilerDeps struct {
	Orders   repositories.OrderRepository
	Gateway  payments.Gateway
	Products ProductClient
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	gateway  payments.Gateway
	products ProductClient
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentReconciler = (*paymentReconciler)(nil)

// NewPaymentReconciler wires dependencies into a concrete PaymentReconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment reconciler: gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentReconciler{
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ProcessWebhook verifies and applies one gateway notification. The returned
// error is reserved for infrastructure failures; unverifiable or unresolvable
// payloads are logged and reported as not applied so the caller can still
// acknowledge the delivery.
func (r *paymentReconciler) ProcessWebhook(ctx context.Context, payload []byte) (WebhookOutcome, error) {
	data, ok, err := r.gateway.VerifyWebhook(payload)
	if err != nil {
		r.logger(ctx, "webhook.decode_failed", map[string]any{"error": err.Error()})
		return WebhookOutcome{}, nil
	}
	if !ok {
		r.logger(ctx, "webhook.signature_mismatch", map[string]any{"orderCode": data.OrderCode})
		return WebhookOutcome{}, nil
	}

	outcome := WebhookOutcome{ResultCode: data.ResultCode}

	number := fmt.Sprintf("%06d", data.OrderCode)
	order, err := r.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		if isRepoNotFound(err) {
			r.logger(ctx, "webhook.order_unknown", map[string]any{
				"orderCode": data.OrderCode,
				"code":      data.ResultCode,
			})
			return outcome, nil
		}
		return outcome, fmt.Errorf("payment reconciler: resolve order %s: %w", number, err)
	}

	outcome.OrderID = order.ID
	outcome.OrderNumber = order.OrderNumber

	applied, decrement, err := r.reconcile(ctx, &order, data)
	if err != nil {
		return outcome, err
	}

	outcome.Applied = applied
	outcome.OrderStatus = order.Status
	outcome.PaymentStatus = order.Payment.Status

	if decrement {
		r.decrementStock(ctx, order)
	}
	return outcome, nil
}

// SyncPaymentStatus polls the gateway for the order's checkout link and
// applies its settled state through the same reconciliation path as a
// webhook. It is the fallback for notifications that never arrived.
func (r *paymentReconciler) SyncPaymentStatus(ctx context.Context, orderID string) (WebhookOutcome, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return WebhookOutcome{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := r.orders.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return WebhookOutcome{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return WebhookOutcome{}, fmt.Errorf("payment reconciler: resolve order %s: %w", id, err)
	}

	outcome := WebhookOutcome{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   order.Status,
		PaymentStatus: order.Payment.Status,
	}

	linkID := strings.TrimSpace(order.Payment.PaymentLinkID)
	if linkID == "" {
		return outcome, nil
	}

	link, err := r.gateway.GetPaymentLink(ctx, linkID)
	if err != nil {
		return outcome, fmt.Errorf("payment reconciler: poll link %s: %w", linkID, err)
	}

	code, settled := resultCodeForLinkStatus(link.Status)
	if !settled {
		r.logger(ctx, "payment_sync.still_pending", map[string]any{
			"order":  order.ID,
			"status": link.Status,
		})
		return outcome, nil
	}
	outcome.ResultCode = code

	applied, decrement, err := r.reconcile(ctx, &order, payments.WebhookData{
		OrderCode:  link.OrderCode,
		ResultCode: code,
	})
	if err != nil {
		return outcome, err
	}

	outcome.Applied = applied
	outcome.OrderStatus = order.Status
	outcome.PaymentStatus = order.Payment.Status

	if decrement {
		r.decrementStock(ctx, order)
	}
	return outcome, nil
}

// resultCodeForLinkStatus maps a polled checkout link status onto the result
// codes the webhook path understands. Unsettled statuses report false.
func resultCodeForLinkStatus(status string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID":
		return payments.ResultCodeSuccess, true
	case "CANCELLED":
		return payments.ResultCodeCancelled, true
	case "EXPIRED":
		return payments.ResultCodeExpired, true
	default:
		return "", false
	}
}

// reconcile applies the webhook to the order and persists it, retrying once on
// a version conflict with a fresh read. Reports whether anything changed and
// whether stock should be decremented.
func (r *paymentReconciler) reconcile(ctx context.Context, order *domain.Order, data payments.WebhookData) (bool, bool, error) {
	changed, decrement := r.applyWebhook(ctx, order, data)
	if !changed {
		return false, false, nil
	}

	err := r.orders.Update(ctx, *order)
	if err == nil {
		order.Version++
		return true, decrement, nil
	}
	if !isRepoConflict(err) {
		return false, false, fmt.Errorf("payment reconciler: persist order %s: %w", order.ID, err)
	}

	r.logger(ctx, "webhook.conflict_retry", map[string]any{"order": order.ID})

	fresh, err := r.orders.FindByID(ctx, order.ID)
	if err != nil {
		return false, false, fmt.Errorf("payment reconciler: re-read order %s: %w", order.ID, err)
	}
	changed, decrement = r.applyWebhook(ctx, &fresh, data)
	if !changed {
		*order = fresh
		return false, false, nil
	}
	if err := r.orders.Update(ctx, fresh); err != nil {
		return false, false, fmt.Errorf("payment reconciler: persist order %s after retry: %w", order.ID, err)
	}
	fresh.Version++
	*order = fresh
	return true, decrement, nil
}

// applyWebhook mutates the order per the gateway result code. Replays are
// harmless: every effect is guarded so a second identical delivery reports no
// change and triggers no stock movement.
func (r *paymentReconciler) applyWebhook(ctx context.Context, order *domain.Order, data payments.WebhookData) (changed bool, decrement bool) {
	now := r.clock()

	if ref := strings.TrimSpace(data.Reference); ref != "" && order.Payment.TransactionID != ref {
		order.Payment.TransactionID = ref
		changed = true
	}

	switch data.ResultCode {
	case payments.ResultCodeSuccess:
		if order.Payment.Status != domain.PaymentStatusCompleted {
			order.Payment.Status = domain.PaymentStatusCompleted
			changed = true
		}
		if order.Payment.PaymentDate == nil {
			ts := now
			order.Payment.PaymentDate = &ts
			changed = true
		}
		if order.Status == domain.OrderStatusPending {
			if err := applyTransition(order, domain.OrderStatusProcessing, "", now); err == nil {
				// The transition resets a COD payment to pending; the
				// gateway settlement wins here.
				order.Payment.Status = domain.PaymentStatusCompleted
				changed = true
				decrement = true
			}
		}
	case payments.ResultCodeExpired, payments.ResultCodeCancelled:
		if order.Payment.Status == domain.PaymentStatusPending {
			order.Payment.Status = domain.PaymentStatusCancelled
			changed = true
		}
		if order.Status == domain.OrderStatusPending {
			if err := applyTransition(order, domain.OrderStatusCancelled, "", now); err == nil {
				changed = true
			}
		}
	default:
		r.logger(ctx, "webhook.code_unhandled", map[string]any{
			"order": order.ID,
			"code":  data.ResultCode,
		})
	}

	if changed {
		order.UpdatedAt = now
	}
	return changed, decrement
}

func (r *paymentReconciler) decrementStock(ctx context.Context, order domain.Order) {
	if r.products == nil {
		return
	}
	for _, item := range order.Items {
		accepted, err := r.products.UpdateStock(ctx, item.ProductID, -item.Quantity)
		switch {
		case err != nil:
			r.logger(ctx, "webhook.stock_decrement_failed", map[string]any{
				"order":   order.ID,
				"product": item.ProductID,
				"error":   err.Error(),
			})
		case !accepted:
			r.logger(ctx, "webhook.stock_insufficient", map[string]any{
				"order":   order.ID,
				"product": item.ProductID,
			})
		}
	}
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
