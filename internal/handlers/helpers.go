package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
	"github.com/fourj/orderservice/internal/platform/pagination"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

var knownOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCompleted:  {},
	domain.OrderStatusCancelled:  {},
	domain.OrderStatusRefunded:   {},
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// parseOrderStatus accepts the canonical upper-case form and tolerates
// lower-case query inputs.
func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func parsePaymentStatus(raw string) (domain.PaymentStatus, bool) {
	status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusCancelled:
		return status, true
	default:
		return "", false
	}
}

// parseStatusFilters splits repeated and comma separated status query values.
func parseStatusFilters(values []string) ([]domain.OrderStatus, error) {
	if len(values) == 0 {
		return nil, nil
	}
	seen := make(map[domain.OrderStatus]struct{})
	filters := make([]domain.OrderStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			status, ok := parseOrderStatus(trimmed)
			if !ok {
				return nil, fmt.Errorf("unknown order status %q", trimmed)
			}
			if _, exists := seen[status]; exists {
				continue
			}
			seen[status] = struct{}{}
			filters = append(filters, status)
		}
	}
	return filters, nil
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func parsePagination(query url.Values, defaultSize, maxSize int) (domain.Pagination, error) {
	params, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize: defaultSize,
		MaxPageSize:     maxSize,
	})
	if err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}

// nextPageToken produces a cursor token for the next page when the current
// page is full. The cursor carries the creation timestamp of the last order,
// matching the repository's createdAt ordering.
func nextPageToken(orders []domain.Order, pageSize int) string {
	if pageSize <= 0 || len(orders) < pageSize {
		return ""
	}
	last := orders[len(orders)-1]
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano)},
	})
	if err != nil {
		return ""
	}
	return token
}

// bearerToken extracts the raw bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
