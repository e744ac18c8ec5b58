// Package fulfill holds the shared kernel of the fulfillment pipeline:
// the error taxonomy, the structured logging and metrics contracts, and the
// circuit breaker used to guard remote backends.
package fulfill

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers should react to it.
type Kind int

const (
	// KindUnknown is any error that does not carry a classification.
	KindUnknown Kind = iota
	// KindConfiguration errors are caused by the request or deploy-time
	// configuration. They surface as 4xx and are never retried.
	KindConfiguration
	// KindAuthentication errors come from bad signatures or failed credential
	// minting. They surface as 4xx (or abort the operation) and are never retried.
	KindAuthentication
	// KindUpstream errors come from the payment processor or document store.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	// ErrProductNotFound is returned for unknown product ids.
	ErrProductNotFound = newError(KindConfiguration, "PRODUCT_NOT_FOUND", "product not found")

	// ErrPriceNotConfigured is returned when the price id a product declares is missing.
	ErrPriceNotConfigured = newError(KindConfiguration, "PRICE_NOT_CONFIGURED", "price not configured")

	// ErrLevelRequired is returned when a tiered product is requested without a tier.
	ErrLevelRequired = newError(KindConfiguration, "LEVEL_REQUIRED", "level required")

	// ErrRedirectNotConfigured is returned when success/cancel URLs cannot be computed.
	ErrRedirectNotConfigured = newError(KindConfiguration, "REDIRECT_NOT_CONFIGURED", "redirect base url not configured")

	// ErrCartEmpty is returned when a cart has no items after normalization.
	ErrCartEmpty = newError(KindConfiguration, "CART_EMPTY", "cart is empty")

	// ErrCartTooLarge is returned when a normalized cart exceeds the item ceiling.
	ErrCartTooLarge = newError(KindConfiguration, "CART_TOO_LARGE", "cart has too many items")

	// ErrCartRecurringItem is returned when a cart contains a recurring product.
	ErrCartRecurringItem = newError(KindConfiguration, "CART_RECURRING_ITEM", "carts support one-time products only")

	// ErrInvalidRequest is returned for malformed request input.
	ErrInvalidRequest = newError(KindConfiguration, "INVALID_REQUEST", "invalid request")

	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = newError(KindAuthentication, "INVALID_SIGNATURE", "invalid webhook signature")

	// ErrCredentials is returned when a bearer token cannot be minted.
	ErrCredentials = newError(KindAuthentication, "CREDENTIALS", "credential minting failed")

	// ErrUpstream is returned when the payment processor or document store fails.
	ErrUpstream = newError(KindUpstream, "UPSTREAM", "upstream call failed")
)

// Wrap annotates a classified sentinel with detail while keeping errors.Is
// and KindOf working.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Upstream wraps err as an upstream failure of op. An err that already
// carries a classification keeps it and only gains op as context.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable code of err, or an empty string.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
