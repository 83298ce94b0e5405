package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
)

const defaultClientTimeout = 5 * time.Second

// ErrProductNotFound is returned when the catalog does not know the product.
var ErrProductNotFound = errors.New("clients: product not found")

// Doer abstracts *http.Client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type productPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
	SellerID string `json:"sellerId"`
}

// ProductClient queries the product catalog service for price/stock checks
// and posts stock adjustments after payment settles.
type ProductClient struct {
	baseURL *url.URL
	client  Doer
}

// ProductClientOption customises the ProductClient.
type ProductClientOption func(*ProductClient)

// WithProductHTTPClient overrides the HTTP client used for catalog calls.
func WithProductHTTPClient(client Doer) ProductClientOption {
	return func(c *ProductClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewProductClient constructs a client bound to the catalog service base URL.
func NewProductClient(baseURL string, opts ...ProductClientOption) (*ProductClient, error) {
	parsed, err := parseBaseURL(baseURL, "product client")
	if err != nil {
		return nil, err
	}
	client := &ProductClient{
		baseURL: parsed,
		client:  &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetProduct fetches the authoritative snapshot for a single product.
func (c *ProductClient) GetProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.ProductSnapshot{}, errors.New("product client: product id is required")
	}

	target := c.resolve("/api/products/" + url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("product client: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("product client: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ProductSnapshot{}, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ProductSnapshot{}, fmt.Errorf("product client: unexpected status %d", resp.StatusCode)
	}

	var payload productPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("product client: decode response: %w", err)
	}
	if payload.ID == "" {
		payload.ID = id
	}
	return domain.ProductSnapshot{
		ID:       payload.ID,
		Name:     payload.Name,
		Price:    payload.Price,
		Stock:    payload.Stock,
		SellerID: payload.SellerID,
	}, nil
}

// UpdateStock posts a stock delta for the product. A negative delta decrements.
// The boolean reports whether the catalog accepted the adjustment.
func (c *ProductClient) UpdateStock(ctx context.Context, productID string, delta int) (bool, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return false, errors.New("product client: product id is required")
	}

	payload, err := json.Marshal(map[string]int{"quantityDelta": delta})
	if err != nil {
		return false, fmt.Errorf("product client: encode request: %w", err)
	}

	target := c.resolve("/api/products/" + url.PathEscape(id) + "/stock")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("product client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("product client: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, ErrProductNotFound
	case http.StatusConflict:
		// Insufficient stock on the catalog side.
		return false, nil
	default:
		return false, fmt.Errorf("product client: unexpected status %d", resp.StatusCode)
	}
}

func (c *ProductClient) resolve(path string) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	return target.String()
}

func parseBaseURL(raw, who string) (*url.URL, error) {
	base := strings.TrimSpace(raw)
	if base == "" {
		return nil, fmt.Errorf("%s: base url is required", who)
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", who, base)
	}
	return parsed, nil
}
