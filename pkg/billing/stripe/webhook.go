package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Verifier implements billing.EventVerifier with the webhook signing secret.
type Verifier struct {
	secret string
}

var _ billing.EventVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier for secret (whsec_...).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

// Configured reports whether a signing secret is set.
func (v *Verifier) Configured() bool {
	return v != nil && v.secret != ""
}

// ConstructEvent implements billing.EventVerifier. The API version of the
// event is not checked: only the fields read here are decoded.
func (v *Verifier) ConstructEvent(payload []byte, signature string) (*billing.Event, error) {
	if !v.Configured() {
		return nil, billing.ErrWebhookNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, fulfill.Wrap(fulfill.ErrInvalidSignature, "missing Stripe-Signature header")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fulfill.Wrap(fulfill.ErrInvalidSignature, "%v", err)
	}
	return toEvent(&event)
}

func toEvent(event *stripe.Event) (*billing.Event, error) {
	out := &billing.Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case billing.EventCheckoutCompleted, billing.EventCheckoutAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
		}
		out.Session = toSession(&session)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
		}
		out.Subscription = toSubscription(&sub)
	}
	return out, nil
}
