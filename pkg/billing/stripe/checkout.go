package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// CreateCheckoutSession implements billing.Provider
func (p *Provider) CreateCheckoutSession(ctx context.Context, in billing.CheckoutParams) (*billing.Session, error) {
	start := time.Now()

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(in.Mode),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	for _, li := range in.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionCreateLineItemParams{
			Price:    stripe.String(li.PriceID),
			Quantity: stripe.Int64(li.Quantity),
		})
	}
	if in.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(in.ClientReferenceID)
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.Mode == billing.ModeSubscription && len(in.SubscriptionMetadata) > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		for k, v := range in.SubscriptionMetadata {
			params.SubscriptionData.AddMetadata(k, v)
		}
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.observe("/checkout/sessions", start, err)
	if err != nil {
		return nil, fulfill.Upstream("create checkout session", err)
	}
	return toSession(session), nil
}

// RetrieveCheckoutSession implements billing.Provider
func (p *Provider) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*billing.Session, error) {
	start := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	p.observe("/checkout/sessions/retrieve", start, err)
	if err != nil {
		return nil, fulfill.Upstream("retrieve checkout session", err)
	}
	return toSession(session), nil
}

// CreatePortalSession implements billing.Provider.
// This allows users to manage their subscription, update payment methods, or cancel.
func (p *Provider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	start := time.Now()

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	p.observe("/billing_portal/sessions", start, err)
	if err != nil {
		return "", fulfill.Upstream("create portal session", err)
	}
	return session.URL, nil
}

func toSession(s *stripe.CheckoutSession) *billing.Session {
	out := &billing.Session{
		ID:                s.ID,
		URL:               s.URL,
		Mode:              string(s.Mode),
		PaymentStatus:     string(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		CustomerEmail:     s.CustomerEmail,
		AmountTotal:       s.AmountTotal,
		Currency:          string(s.Currency),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}
