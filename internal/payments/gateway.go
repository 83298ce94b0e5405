package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Gateway result codes reported in webhook notifications.
const (
	// ResultCodeSuccess indicates the payment settled.
	ResultCodeSuccess = "00"
	// ResultCodeExpired indicates the checkout link expired before payment.
	ResultCodeExpired = "98"
	// ResultCodeCancelled indicates the customer cancelled the checkout.
	ResultCodeCancelled = "99"
)

// ErrLinkNotFound is returned when the gateway does not know the payment link.
var ErrLinkNotFound = errors.New("payments: payment link not found")

// LinkItem describes a single line to show on the hosted checkout page.
type LinkItem struct {
	Name     string
	Quantity int
	Price    int64
}

// CreateLinkRequest captures the payload required to create a checkout link.
type CreateLinkRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	Items       []LinkItem
	ReturnURL   string
	CancelURL   string
	ExpiredAt   time.Time
}

// PaymentLink represents the hosted checkout issued by the gateway.
type PaymentLink struct {
	ID          string
	OrderCode   int64
	CheckoutURL string
	Status      string
	ExpiresAt   time.Time
}

// WebhookData carries the verified fields of a gateway notification.
type WebhookData struct {
	OrderCode  int64
	Amount     int64
	ResultCode string
	Reference  string
	Desc       string
}

// Gateway defines the payment processor contract used by order services.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (PaymentLink, error)
	CancelPaymentLink(ctx context.Context, linkID string, reason string) error
	GetPaymentLink(ctx context.Context, linkID string) (PaymentLink, error)
	// VerifyWebhook authenticates the raw notification body and returns its
	// decoded data. ok is false when the signature does not match.
	VerifyWebhook(payload []byte) (data WebhookData, ok bool, err error)
}

// webhookEnvelope mirrors the gateway's notification body.
type webhookEnvelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type webhookDataBody struct {
	OrderCode     int64  `json:"orderCode"`
	Amount        int64  `json:"amount"`
	Code          string `json:"code"`
	Desc          string `json:"desc"`
	Reference     string `json:"reference"`
	PaymentLinkID string `json:"paymentLinkId"`
}

// signPayload computes the HMAC-SHA256 checksum the gateway uses: the data
// object's fields sorted by key and joined as key=value pairs with '&'.
func signPayload(data json.RawMessage, checksumKey string) (string, error) {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return "", fmt.Errorf("payments: decode webhook data: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, canonicalValue(fields[key])))
	}

	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func canonicalValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func verifySignature(data json.RawMessage, signature, checksumKey string) (bool, error) {
	expected, err := signPayload(data, checksumKey)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))), nil
}
