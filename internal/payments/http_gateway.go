package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	paymentRequestsPath   = "/v2/payment-requests"
)

// Doer abstracts *http.Client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPGatewayConfig carries the credentials and endpoint for the gateway API.
type HTTPGatewayConfig struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
}

// HTTPGatewayOption customises the HTTPGateway.
type HTTPGatewayOption func(*HTTPGateway)

// WithHTTPClient overrides the HTTP client used for gateway calls.
func WithHTTPClient(client Doer) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithGatewayClock injects a custom clock primarily for tests.
func WithGatewayClock(clock func() time.Time) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithGatewayLogger wires structured event logging for gateway calls.
func WithGatewayLogger(logEvent func(ctx context.Context, event string, fields map[string]any)) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if logEvent != nil {
			g.logEvent = logEvent
		}
	}
}

// HTTPGateway talks to the hosted-checkout payment gateway over its REST API.
type HTTPGateway struct {
	baseURL     *url.URL
	clientID    string
	apiKey      string
	checksumKey string

	client   Doer
	now      func() time.Time
	logEvent func(ctx context.Context, event string, fields map[string]any)
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway constructs a Gateway over the configured REST endpoint.
func NewHTTPGateway(cfg HTTPGatewayConfig, opts ...HTTPGatewayOption) (*HTTPGateway, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("payments: gateway base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("payments: invalid gateway base url %q", base)
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("payments: gateway credentials are required")
	}
	if strings.TrimSpace(cfg.ChecksumKey) == "" {
		return nil, errors.New("payments: gateway checksum key is required")
	}

	gateway := &HTTPGateway{
		baseURL:     parsed,
		clientID:    strings.TrimSpace(cfg.ClientID),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		checksumKey: strings.TrimSpace(cfg.ChecksumKey),
		client:      &http.Client{Timeout: defaultRequestTimeout},
		now:         time.Now,
		logEvent:    func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gateway)
		}
	}
	return gateway, nil
}

type createLinkBody struct {
	OrderCode   int64          `json:"orderCode"`
	Amount      int64          `json:"amount"`
	Description string         `json:"description"`
	Items       []linkItemBody `json:"items,omitempty"`
	ReturnURL   string         `json:"returnUrl,omitempty"`
	CancelURL   string         `json:"cancelUrl,omitempty"`
	ExpiredAt   int64          `json:"expiredAt,omitempty"`
	Signature   string         `json:"signature"`
}

type linkItemBody struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type gatewayResponse struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

type paymentLinkBody struct {
	PaymentLinkID string `json:"paymentLinkId"`
	OrderCode     int64  `json:"orderCode"`
	CheckoutURL   string `json:"checkoutUrl"`
	Status        string `json:"status"`
	ExpiredAt     int64  `json:"expiredAt"`
}

// CreatePaymentLink requests a hosted checkout link for the given order.
func (g *HTTPGateway) CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (PaymentLink, error) {
	if req.OrderCode <= 0 {
		return PaymentLink{}, errors.New("payments: order code must be positive")
	}
	if req.Amount <= 0 {
		return PaymentLink{}, errors.New("payments: amount must be positive")
	}

	body := createLinkBody{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		ReturnURL:   strings.TrimSpace(req.ReturnURL),
		CancelURL:   strings.TrimSpace(req.CancelURL),
	}
	if !req.ExpiredAt.IsZero() {
		body.ExpiredAt = req.ExpiredAt.Unix()
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, linkItemBody{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	body.Signature = g.signCreateRequest(body)

	var link paymentLinkBody
	if err := g.call(ctx, http.MethodPost, paymentRequestsPath, body, &link); err != nil {
		return PaymentLink{}, err
	}
	if strings.TrimSpace(link.PaymentLinkID) == "" || strings.TrimSpace(link.CheckoutURL) == "" {
		return PaymentLink{}, errors.New("payments: gateway returned incomplete payment link")
	}

	result := PaymentLink{
		ID:          link.PaymentLinkID,
		OrderCode:   link.OrderCode,
		CheckoutURL: link.CheckoutURL,
		Status:      link.Status,
	}
	if link.ExpiredAt > 0 {
		result.ExpiresAt = time.Unix(link.ExpiredAt, 0).UTC()
	}
	return result, nil
}

// CancelPaymentLink voids an outstanding checkout link.
func (g *HTTPGateway) CancelPaymentLink(ctx context.Context, linkID string, reason string) error {
	id := strings.TrimSpace(linkID)
	if id == "" {
		return errors.New("payments: payment link id is required")
	}
	payload := map[string]string{}
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		payload["cancellationReason"] = trimmed
	}
	return g.call(ctx, http.MethodPost, paymentRequestsPath+"/"+url.PathEscape(id)+"/cancel", payload, nil)
}

// GetPaymentLink fetches the current state of a checkout link.
func (g *HTTPGateway) GetPaymentLink(ctx context.Context, linkID string) (PaymentLink, error) {
	id := strings.TrimSpace(linkID)
	if id == "" {
		return PaymentLink{}, errors.New("payments: payment link id is required")
	}

	var link paymentLinkBody
	if err := g.call(ctx, http.MethodGet, paymentRequestsPath+"/"+url.PathEscape(id), nil, &link); err != nil {
		return PaymentLink{}, err
	}
	result := PaymentLink{
		ID:          link.PaymentLinkID,
		OrderCode:   link.OrderCode,
		CheckoutURL: link.CheckoutURL,
		Status:      link.Status,
	}
	if link.ExpiredAt > 0 {
		result.ExpiresAt = time.Unix(link.ExpiredAt, 0).UTC()
	}
	return result, nil
}

// VerifyWebhook authenticates the raw notification body against the checksum key.
func (g *HTTPGateway) VerifyWebhook(payload []byte) (WebhookData, bool, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return WebhookData{}, false, fmt.Errorf("payments: decode webhook envelope: %w", err)
	}
	if len(envelope.Data) == 0 || strings.TrimSpace(envelope.Signature) == "" {
		return WebhookData{}, false, nil
	}

	ok, err := verifySignature(envelope.Data, envelope.Signature, g.checksumKey)
	if err != nil || !ok {
		return WebhookData{}, false, err
	}

	var data webhookDataBody
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return WebhookData{}, false, fmt.Errorf("payments: decode webhook data: %w", err)
	}
	return WebhookData{
		OrderCode:  data.OrderCode,
		Amount:     data.Amount,
		ResultCode: strings.TrimSpace(data.Code),
		Reference:  strings.TrimSpace(data.Reference),
		Desc:       data.Desc,
	}, true, nil
}

// signCreateRequest checksums the canonical fields of a link creation request.
func (g *HTTPGateway) signCreateRequest(body createLinkBody) string {
	fields := map[string]string{
		"amount":      fmt.Sprintf("%d", body.Amount),
		"cancelUrl":   body.CancelURL,
		"description": body.Description,
		"orderCode":   fmt.Sprintf("%d", body.OrderCode),
		"returnUrl":   body.ReturnURL,
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+fields[key])
	}
	mac := hmac.New(sha256.New, []byte(g.checksumKey))
	mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *HTTPGateway) call(ctx context.Context, method, path string, payload any, out any) error {
	target := *g.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("payments: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("x-client-id", g.clientID)
	req.Header.Set("x-api-key", g.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := g.now()
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("payments: gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payments: read gateway response: %w", err)
	}

	g.logEvent(ctx, "gateway_call", map[string]any{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"durationMs": g.now().Sub(start).Milliseconds(),
	})

	if resp.StatusCode == http.StatusNotFound {
		return ErrLinkNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payments: gateway returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var envelope gatewayResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("payments: decode gateway response: %w", err)
	}
	if envelope.Code != "" && envelope.Code != ResultCodeSuccess {
		return fmt.Errorf("payments: gateway rejected request: code=%s desc=%s", envelope.Code, envelope.Desc)
	}
	if out != nil {
		if len(envelope.Data) == 0 {
			return errors.New("payments: gateway response missing data")
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("payments: decode gateway data: %w", err)
		}
	}
	return nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
