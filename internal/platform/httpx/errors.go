package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Lower layers wrap these so handlers can map any error to a
// status code with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnavailable       = errors.New("service unavailable")
)

// Error carries a user-facing message alongside the kind it belongs to.
type Error struct {
	Op      string // operation that failed, e.g. "orders.Place"
	Kind    error  // one of the sentinel kinds above
	Message string // safe to show to API clients
	Err     error  // underlying cause, never shown outside development
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return e.Message
	}
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// E builds an *Error without an underlying cause.
func E(op string, kind error, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

// Wrap builds an *Error around a cause.
func Wrap(op string, kind error, message string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// Invalid is shorthand for a validation error.
func Invalid(op, message string) *Error { return E(op, ErrValidation, message) }

// NotFound is shorthand for a not-found error.
func NotFound(op, message string) *Error { return E(op, ErrNotFound, message) }

// Forbidden is shorthand for an authorization error.
func Forbidden(op, message string) *Error { return E(op, ErrForbidden, message) }

// StatusOf maps an error to its HTTP status and machine-readable code.
func StatusOf(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// MessageOf returns the client-facing message for err. Internal errors only reveal
// their cause when expose is true.
func MessageOf(err error, fallback string, expose bool) string {
	if err == nil {
		return fallback
	}
	if status, _ := StatusOf(err); status == http.StatusInternalServerError {
		if expose {
			return err.Error()
		}
		return fallback
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
