package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CartClient talks to the cart service. Clearing is advisory from the order
// service's perspective; callers treat failures as non-fatal.
type CartClient struct {
	baseURL *url.URL
	client  Doer
}

// CartClientOption customises the CartClient.
type CartClientOption func(*CartClient)

// WithCartHTTPClient overrides the HTTP client used for cart calls.
func WithCartHTTPClient(client Doer) CartClientOption {
	return func(c *CartClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewCartClient constructs a client bound to the cart service base URL.
func NewCartClient(baseURL string, opts ...CartClientOption) (*CartClient, error) {
	parsed, err := parseBaseURL(baseURL, "cart client")
	if err != nil {
		return nil, err
	}
	client := &CartClient{
		baseURL: parsed,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ClearCart empties the user's cart, forwarding the caller's bearer token.
func (c *CartClient) ClearCart(ctx context.Context, userID, bearerToken string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart client: user id is required")
	}

	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + "/api/carts/" + url.PathEscape(uid)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("cart client: build request: %w", err)
	}
	if token := strings.TrimSpace(bearerToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cart client: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("cart client: unexpected status %d", resp.StatusCode)
	}
	return nil
}
