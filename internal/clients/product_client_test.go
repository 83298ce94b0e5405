package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/p-1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(productPayload{
			ID:       "p-1",
			Name:     "Ceramic Mug",
			Price:    50000,
			Stock:    12,
			SellerID: "seller-3",
		})
	}))
	defer server.Close()

	client, err := NewProductClient(server.URL, WithProductHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewProductClient returned error: %v", err)
	}

	snapshot, err := client.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetProduct returned error: %v", err)
	}
	if snapshot.Price != 50000 || snapshot.Stock != 12 || snapshot.SellerID != "seller-3" {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
}

func TestGetProductNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewProductClient(server.URL, WithProductHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewProductClient returned error: %v", err)
	}

	if _, err := client.GetProduct(context.Background(), "p-404"); err != ErrProductNotFound {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestUpdateStock(t *testing.T) {
	var gotBody map[string]int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/p-1/stock" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewProductClient(server.URL, WithProductHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewProductClient returned error: %v", err)
	}

	ok, err := client.UpdateStock(context.Background(), "p-1", -3)
	if err != nil {
		t.Fatalf("UpdateStock returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected stock update to be accepted")
	}
	if gotBody["quantityDelta"] != -3 {
		t.Fatalf("unexpected delta: %d", gotBody["quantityDelta"])
	}
}

func TestUpdateStockConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client, err := NewProductClient(server.URL, WithProductHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewProductClient returned error: %v", err)
	}

	ok, err := client.UpdateStock(context.Background(), "p-1", -3)
	if err != nil {
		t.Fatalf("UpdateStock returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection on conflict")
	}
}

func TestClearCartForwardsToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/carts/user-9" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewCartClient(server.URL, WithCartHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewCartClient returned error: %v", err)
	}

	if err := client.ClearCart(context.Background(), "user-9", "token-abc"); err != nil {
		t.Fatalf("ClearCart returned error: %v", err)
	}
	if gotAuth != "Bearer token-abc" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}
