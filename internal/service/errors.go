package service

import (
	"context"
	"errors"

	"github.com/kiwari-pos/console/internal/orderapi"
)

// Validation errors: detected locally, never sent to the API.
var (
	ErrNoOrder            = errors.New("no order is open")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrInvalidPrice       = errors.New("price must not be negative")
	ErrDuplicateProduct   = errors.New("product is already in the order")
	ErrInsufficientStock  = errors.New("quantity exceeds available stock")
	ErrItemNotFound       = errors.New("line item not found in order")
	ErrEmptyOrder         = errors.New("order has no items")
	ErrStatusNotEditable  = errors.New("order status does not allow this change")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrWindowRequired     = errors.New("delivery window is required for delivery orders")
	ErrInvalidWindow      = errors.New("delivery window start must be before its end")
	ErrMissingEmail       = errors.New("customer has no email address")
	ErrInvalidProductCode = errors.New("product code is required")
)

// Session lifecycle errors.
var (
	ErrBusy          = errors.New("another change to this order is still in progress")
	ErrSessionClosed = errors.New("order session was closed or replaced")
	ErrReloadFailed  = errors.New("change saved but the order could not be refreshed")
)

const (
	msgTransport = "Could not reach the server. Check your connection and try again."
	msgRejected  = "The server rejected the change."
)

// IsValidationError reports whether err was raised by a local precondition.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoOrder) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrDuplicateProduct) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrStatusNotEditable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrWindowRequired) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrMissingEmail) ||
		errors.Is(err, ErrInvalidProductCode)
}

// UserMessage renders err as the text shown in a toast.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err), errors.Is(err, ErrBusy), errors.Is(err, ErrSessionClosed):
		return capitalize(rootMessage(err))
	case errors.Is(err, ErrReloadFailed):
		return capitalize(ErrReloadFailed.Error())
	}
	if apiErr, ok := orderapi.AsAPIError(err); ok {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return msgRejected
	}
	return msgTransport
}

// rootMessage returns the sentinel's text rather than the wrapped chain.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		ErrNoOrder, ErrInvalidQuantity, ErrInvalidPrice, ErrDuplicateProduct,
		ErrInsufficientStock, ErrItemNotFound, ErrEmptyOrder, ErrStatusNotEditable,
		ErrInvalidTransition, ErrWindowRequired, ErrInvalidWindow, ErrMissingEmail,
		ErrInvalidProductCode, ErrBusy, ErrSessionClosed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// isCancelled reports whether err comes from the session aborting its requests.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
