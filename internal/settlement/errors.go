package settlement

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category classifies raw failures from the confidential-computation service.
type Category string

const (
	CategoryNetwork             Category = "network"
	CategoryTimeout             Category = "timeout"
	CategoryInsufficientBalance Category = "insufficient_balance"
	CategoryServiceUnavailable  Category = "service_unavailable"
	CategoryInvalidInput        Category = "invalid_input"
	CategoryUnknown             Category = "unknown"
)

// Retryable reports whether failures in this category may be retried
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryServiceUnavailable:
		return true
	default:
		return false
	}
}

// Sentinel errors a compute service implementation can return to signal a
// specific classification.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrInvalidInput        = errors.New("invalid input")
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call without
// invoking the external service.
var ErrCircuitOpen = errors.New("settlement service circuit is open")

// ClassifiedError wraps a raw external failure with its category.
type ClassifiedError struct {
	Category Category
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify categorizes a raw failure from the external service. Already
// classified errors pass through unchanged.
func Classify(err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{Category: CategoryTimeout, Err: err}
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrServiceUnavailable):
		return &ClassifiedError{Category: CategoryServiceUnavailable, Err: err}
	case errors.Is(err, ErrInsufficientBalance):
		return &ClassifiedError{Category: CategoryInsufficientBalance, Err: err}
	case errors.Is(err, ErrInvalidInput):
		return &ClassifiedError{Category: CategoryInvalidInput, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ClassifiedError{Category: CategoryTimeout, Err: err}
		}
		return &ClassifiedError{Category: CategoryNetwork, Err: err}
	}

	return &ClassifiedError{Category: CategoryUnknown, Err: err}
}
