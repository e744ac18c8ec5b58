package webhook

import (
	"context"
	"fmt"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/checkout"
	"github.com/mihaimyh/gofulfill/pkg/ledger"
)

func subscriptionSnapshot(event *billing.Event, sub *billing.Subscription) ledger.EntitlementSnapshot {
	return ledger.EntitlementSnapshot{
		Active:            sub.Active() && event.Type != billing.EventSubscriptionDeleted,
		Status:            sub.Status,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		SubscriptionID:    sub.ID,
		PriceID:           sub.PriceID,
		CustomerID:        sub.CustomerID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UpdatedAt:         event.Created,
	}
}

// entitlementKey picks the key a subscription grants: metadata first, then
// the product charged at its price.
func (p *Processor) entitlementKey(sub *billing.Subscription) string {
	if key := sub.Metadata[checkout.MetaEntitlementKey]; key != "" {
		return key
	}
	if prod, ok := p.catalog.ByPriceID(sub.PriceID); ok && prod.EntitlementKey != "" {
		return prod.EntitlementKey
	}
	return DefaultEntitlementKey
}

func (p *Processor) handleSubscription(ctx context.Context, event *billing.Event) Result {
	sub := event.Subscription
	if sub == nil {
		return Result{State: Rejected, Err: fmt.Errorf("%w: event has no subscription", billing.ErrInvalidWebhookPayload)}
	}

	id := ledger.Identity{
		UID:        sub.Metadata[checkout.MetaUID],
		Email:      sub.Metadata[checkout.MetaEmail],
		CustomerID: sub.CustomerID,
	}
	if id.UID == "" && p.ledger.Enabled() {
		uid, err := p.ledger.FindByCustomer(ctx, sub.CustomerID)
		if err != nil {
			return classify(err)
		}
		id.UID = uid
	}

	_, err := p.ledger.MergeSubscriptionEntitlement(ctx, id, p.entitlementKey(sub), subscriptionSnapshot(event, sub))
	return classify(err)
}
