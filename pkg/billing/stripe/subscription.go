package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// RetrieveSubscription implements billing.Provider
func (p *Provider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	start := time.Now()
	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	p.observe("/subscriptions/retrieve", start, err)
	if err != nil {
		return nil, fulfill.Upstream("retrieve subscription", err)
	}
	return toSubscription(sub), nil
}

// toSubscription flattens a subscription onto its first item. Period bounds
// live on subscription items since API version 2025-03-31.
func toSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if out.PriceID == "" && item.Price != nil {
				out.PriceID = item.Price.ID
			}
			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				if out.CurrentPeriodEnd == nil || end.After(*out.CurrentPeriodEnd) {
					out.CurrentPeriodEnd = &end
				}
			}
		}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}
