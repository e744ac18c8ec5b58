// Package billing defines the payment processor surface the fulfillment
// pipeline needs: checkout and portal sessions, subscription and session
// retrieval, and webhook event verification. Implementations live in
// subpackages (see billing/stripe).
package billing

import (
	"context"
)

// Provider is the subset of the payment processor API the pipeline calls.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)

	// RetrieveCheckoutSession fetches a checkout session by id.
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*Session, error)

	// RetrieveSubscription fetches the live state of a subscription.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreatePortalSession creates a billing management session for customerID.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// EventVerifier authenticates a raw webhook payload and decodes it.
type EventVerifier interface {
	// ConstructEvent verifies signature over payload and returns the decoded
	// event. A bad signature is reported as fulfill.ErrInvalidSignature.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}
