package repositories

import "fmt"

// OrderErrorCode enumerates failure reasons for order persistence operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorInvalidInput indicates the caller supplied invalid arguments.
	OrderErrorInvalidInput OrderErrorCode = "order_invalid_input"
	// OrderErrorDuplicateNumber indicates the generated order number is already taken.
	OrderErrorDuplicateNumber OrderErrorCode = "order_duplicate_number"
)

// OrderError wraps order-specific persistence failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
