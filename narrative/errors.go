package narrative

import (
	"context"
	"errors"
	"fmt"
	"net"

	"vigil/core"
)

var (
	// ErrEmptyCompletion is returned when a provider answers 2xx with no text
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrUnparseableCompletion is returned when a completion has none of the requested sections
	ErrUnparseableCompletion = errors.New("completion contains no narrative sections")
	// ErrRateLimited is returned when the provider's local request budget is spent
	ErrRateLimited = errors.New("provider rate budget exhausted")
)

// FailureKind categorizes provider failures for logging and metrics labels.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureTransport   FailureKind = "transport"
	FailureStatus      FailureKind = "status"
	FailureEmpty       FailureKind = "empty"
	FailureUnparseable FailureKind = "unparseable"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureRateLimited FailureKind = "rate_limited"
	FailureCanceled    FailureKind = "canceled"
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ClassifyFailure maps a provider error to a FailureKind.
func ClassifyFailure(err error) FailureKind {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, core.ErrCircuitBreakerOpen):
		return FailureCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrEmptyCompletion):
		return FailureEmpty
	case errors.Is(err, ErrUnparseableCompletion):
		return FailureUnparseable
	case errors.As(err, &statusErr):
		return FailureStatus
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	default:
		return FailureTransport
	}
}
