package shipper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Error codes shared by every adapter.
const (
	CodeLabelNotPermitted  = "label_not_permitted"
	CodeNotFound           = "not_found"
	CodeInvalidMethod      = "invalid_method"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeBadRequest         = "bad_request"
	CodeUnavailable        = "unavailable"
	CodeMalformedResponse  = "malformed_response"
	CodeUnresolvableMarker = "unresolvable_marker"
)

// ShipperError represents an error from a shipping carrier.
type ShipperError struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *ShipperError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ShipperError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ShipperError.
func (e *ShipperError) Is(target error) bool {
	t, ok := target.(*ShipperError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewShipperError creates a new ShipperError.
func NewShipperError(carrier, code, message string) *ShipperError {
	return &ShipperError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// FromStatus classifies a provider HTTP failure. 404 is not_found, 402 is
// insufficient_funds, 429 and 5xx are retryable unavailable errors and
// everything else is a bad request.
func FromStatus(carrier string, status int, message string) *ShipperError {
	switch {
	case status == http.StatusNotFound:
		return NewShipperError(carrier, CodeNotFound, message).WithStatusCode(status)
	case status == http.StatusPaymentRequired:
		return NewShipperError(carrier, CodeInsufficientFunds, message).WithStatusCode(status)
	case status == http.StatusTooManyRequests, status >= 500:
		return NewShipperError(carrier, CodeUnavailable, message).WithStatusCode(status).WithRetryable(true)
	default:
		return NewShipperError(carrier, CodeBadRequest, message).WithStatusCode(status)
	}
}

// Wrap classifies a failure that carries no provider status: transport
// failures are retryable, anything else means the provider answered with
// something that could not be understood.
func Wrap(carrier, message string, err error) error {
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return err
	}
	var urlErr *url.Error
	if IsRetryable(err) || errors.As(err, &urlErr) {
		return NewShipperError(carrier, CodeUnavailable, message).WithCause(err).WithRetryable(true)
	}
	return NewShipperError(carrier, CodeMalformedResponse, message).WithCause(err)
}

// Sentinel errors for common shipping scenarios.
var (
	// ErrServiceUnavailable indicates the carrier service is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrRateLimitExceeded indicates the carrier rate limit was exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCarrierNotFound indicates the requested carrier is not registered.
	ErrCarrierNotFound = errors.New("carrier not found")

	// ErrNoShippingOption is the generic message shown at checkout.
	ErrNoShippingOption = errors.New("no shipping option available")
)

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return shipperErr.Retryable
	}
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRateLimitExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// IsFatal reports whether retrying err cannot succeed. Only classified
// provider errors are fatal; unknown failures are left to the caller.
func IsFatal(err error) bool {
	var shipperErr *ShipperError
	return errors.As(err, &shipperErr) && !shipperErr.Retryable
}

// IsCode reports whether err is a ShipperError with the given code.
func IsCode(err error, code string) bool {
	var shipperErr *ShipperError
	return errors.As(err, &shipperErr) && shipperErr.Code == code
}
