package jobs

import (
	"testing"

	domain "github.com/fourj/orderservice/internal/domain"
)

func TestDecodeCheckoutEvent(t *testing.T) {
	payload := []byte(`{
		"checkoutId": "chk_01HZX4",
		"userId": "user-9",
		"items": [
			{"productId": "p-1", "productName": "Ceramic Mug", "price": 50000, "quantity": 3}
		],
		"shippingAddress": "12 Tran Hung Dao, Hanoi",
		"paymentMethod": "cod"
	}`)

	event, err := decodeCheckoutEvent(payload)
	if err != nil {
		t.Fatalf("decodeCheckoutEvent returned error: %v", err)
	}
	if event.CheckoutID != "chk_01HZX4" {
		t.Fatalf("unexpected checkout id: %q", event.CheckoutID)
	}
	if event.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("expected payment method normalised to COD, got %q", event.PaymentMethod)
	}
	if len(event.Items) != 1 || event.Items[0].Price != 50000 {
		t.Fatalf("unexpected items: %#v", event.Items)
	}
}

func TestDecodeCheckoutEventMissingUser(t *testing.T) {
	if _, err := decodeCheckoutEvent([]byte(`{"checkoutId":"chk-1"}`)); err == nil {
		t.Fatalf("expected error for missing userId")
	}
}

func TestDecodeCheckoutEventMalformed(t *testing.T) {
	if _, err := decodeCheckoutEvent([]byte(`{"checkoutId":`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
