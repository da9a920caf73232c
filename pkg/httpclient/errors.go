package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// ErrorCategory groups failures by how a caller should react to them.
type ErrorCategory int

const (
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryCancelled
	ErrorCategoryTimeout
	ErrorCategoryNetwork
	ErrorCategoryCircuitOpen
	ErrorCategoryRateLimited
	ErrorCategoryServerError
	ErrorCategoryNotFound
	ErrorCategoryClientError
	ErrorCategoryTooLarge
	ErrorCategoryUnknown
)

// String returns the string representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryNone:
		return "none"
	case ErrorCategoryCancelled:
		return "cancelled"
	case ErrorCategoryTimeout:
		return "timeout"
	case ErrorCategoryNetwork:
		return "network_error"
	case ErrorCategoryCircuitOpen:
		return "circuit_open"
	case ErrorCategoryRateLimited:
		return "rate_limited"
	case ErrorCategoryServerError:
		return "server_error_5xx"
	case ErrorCategoryNotFound:
		return "not_found"
	case ErrorCategoryClientError:
		return "client_error_4xx"
	case ErrorCategoryTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Categorize maps an error produced by Client to an ErrorCategory.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ErrorCategoryCircuitOpen
	}
	if errors.Is(err, ErrResponseTooLarge) {
		return ErrorCategoryTooLarge
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return ErrorCategoryRateLimited
		case statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone:
			return ErrorCategoryNotFound
		case statusErr.StatusCode == http.StatusRequestTimeout:
			return ErrorCategoryTimeout
		case statusErr.StatusCode >= 500:
			return ErrorCategoryServerError
		default:
			return ErrorCategoryClientError
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorCategoryNetwork
	}
	if errors.Is(err, ErrMaxRetries) {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}

// IsRetryable reports whether a later attempt could plausibly succeed.
func IsRetryable(err error) bool {
	switch Categorize(err) {
	case ErrorCategoryTimeout, ErrorCategoryNetwork, ErrorCategoryCircuitOpen,
		ErrorCategoryRateLimited, ErrorCategoryServerError:
		return true
	default:
		return false
	}
}
