package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/services"
)

// CheckoutHandler processes one decoded checkout event. Returning a transient
// error nacks the message for redelivery; nil acks it.
type CheckoutHandler func(ctx context.Context, event domain.CheckoutEvent) error

// ErrCheckoutEventDiscard signals a permanently unprocessable event; the
// message is acked and dropped because redelivery cannot help.
var ErrCheckoutEventDiscard = errors.New("jobs: checkout event discarded")

// NewOrderCheckoutHandler adapts the order service into a CheckoutHandler.
// Validation failures are discarded since redelivering the same event cannot
// fix them; everything else is treated as transient.
func NewOrderCheckoutHandler(orders services.OrderService) CheckoutHandler {
	return func(ctx context.Context, event domain.CheckoutEvent) error {
		_, err := orders.CreateFromEvent(ctx, event)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, services.ErrOrderInvalidInput),
			errors.Is(err, services.ErrOrderEmptyCart),
			errors.Is(err, services.ErrOrderProductNotFound),
			errors.Is(err, services.ErrOrderPriceMismatch),
			errors.Is(err, services.ErrOrderInsufficientStock):
			return fmt.Errorf("%w: %v", ErrCheckoutEventDiscard, err)
		default:
			return err
		}
	}
}

// PubSubCheckoutSubscriber receives checkout events from a Pub/Sub subscription.
type PubSubCheckoutSubscriber struct {
	subscription *pubsub.Subscription
	handler      CheckoutHandler
	logEvent     func(ctx context.Context, event string, fields map[string]any)
}

// NewPubSubCheckoutSubscriber constructs a subscriber bound to the given subscription.
func NewPubSubCheckoutSubscriber(subscription *pubsub.Subscription, handler CheckoutHandler, logEvent func(ctx context.Context, event string, fields map[string]any)) (*PubSubCheckoutSubscriber, error) {
	if subscription == nil {
		return nil, errors.New("pubsub checkout subscriber: subscription is required")
	}
	if handler == nil {
		return nil, errors.New("pubsub checkout subscriber: handler is required")
	}
	sub := &PubSubCheckoutSubscriber{
		subscription: subscription,
		handler:      handler,
		logEvent:     logEvent,
	}
	if sub.logEvent == nil {
		sub.logEvent = func(context.Context, string, map[string]any) {}
	}
	return sub, nil
}

// Run blocks receiving messages until the context is cancelled.
func (s *PubSubCheckoutSubscriber) Run(ctx context.Context) error {
	if s == nil || s.subscription == nil {
		return errors.New("pubsub checkout subscriber: not initialised")
	}

	return s.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		event, err := decodeCheckoutEvent(msg.Data)
		if err != nil {
			// Malformed payloads never become valid on retry.
			s.logEvent(ctx, "checkout_event_malformed", map[string]any{
				"messageId": msg.ID,
				"error":     err.Error(),
			})
			msg.Ack()
			return
		}

		if err := s.handler(ctx, event); err != nil {
			if errors.Is(err, ErrCheckoutEventDiscard) {
				s.logEvent(ctx, "checkout_event_discarded", map[string]any{
					"messageId":  msg.ID,
					"checkoutId": event.CheckoutID,
					"error":      err.Error(),
				})
				msg.Ack()
				return
			}
			s.logEvent(ctx, "checkout_event_retry", map[string]any{
				"messageId":  msg.ID,
				"checkoutId": event.CheckoutID,
				"error":      err.Error(),
			})
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type checkoutEventMessage struct {
	CheckoutID      string                     `json:"checkoutId"`
	UserID          string                     `json:"userId"`
	Items           []checkoutEventItemMessage `json:"items"`
	ShippingAddress string                     `json:"shippingAddress"`
	PaymentMethod   string                     `json:"paymentMethod"`
	Notes           string                     `json:"notes,omitempty"`
}

type checkoutEventItemMessage struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
}

func decodeCheckoutEvent(data []byte) (domain.CheckoutEvent, error) {
	var msg checkoutEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.CheckoutEvent{}, err
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return domain.CheckoutEvent{}, errors.New("checkout event missing userId")
	}

	event := domain.CheckoutEvent{
		CheckoutID:      strings.TrimSpace(msg.CheckoutID),
		UserID:          strings.TrimSpace(msg.UserID),
		ShippingAddress: msg.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(msg.PaymentMethod))),
		Notes:           msg.Notes,
	}
	event.Items = make([]domain.CheckoutEventItem, 0, len(msg.Items))
	for _, item := range msg.Items {
		event.Items = append(event.Items, domain.CheckoutEventItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}
	return event, nil
}
