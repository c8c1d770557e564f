// Package apperr defines the error taxonomy shared by the wallet, order and
// payment services and its mapping onto HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Business-rule rejections never mutate state and are never retried.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrVerificationFailed  = errors.New("verification failed")
	ErrNoDeliveryToken     = errors.New("no delivery token")
)

// Infrastructure failures; safe to retry.
var (
	ErrStorage   = errors.New("storage error")
	ErrTransient = errors.New("transient error")
)

// Validation returns an ErrValidation carrying a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Storage wraps a driver error as ErrStorage.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FromContext(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// FromContext marks context expiry as ErrTransient so callers can tell a
// timeout apart from a business rejection. Other errors pass through.
func FromContext(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// IsBusiness reports whether err is a business-rule rejection.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrVerificationFailed)
}

// Kind returns a stable machine-readable code for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrVerificationFailed):
		return "VERIFICATION_FAILED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNoDeliveryToken):
		return "NO_DELIVERY_TOKEN"
	case errors.Is(err, ErrTransient):
		return "TRANSIENT"
	case errors.Is(err, ErrStorage):
		return "STORAGE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsBusiness(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoDeliveryToken):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
