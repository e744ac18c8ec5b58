package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/cart"
	"github.com/mihaimyh/gofulfill/pkg/catalog"
	"github.com/mihaimyh/gofulfill/pkg/checkout"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
	"github.com/mihaimyh/gofulfill/pkg/ledger"
	"github.com/mihaimyh/gofulfill/pkg/notify"
)

// line is one purchased item resolved against the catalog.
type line struct {
	item    cart.Item
	product catalog.Product
}

// Intent reads the purchased items back from session metadata. A cart token
// takes precedence over a single product id. An empty result means the
// session carries no intent.
func Intent(md map[string]string) ([]cart.Item, error) {
	items, ok, err := cart.DecodeMetadata(md)
	if err != nil {
		return nil, err
	}
	if ok {
		return cart.Normalize(items), nil
	}
	if id := strings.TrimSpace(md[checkout.MetaProductID]); id != "" {
		return []cart.Item{{ProductID: id, Tier: strings.TrimSpace(md[checkout.MetaTier])}}, nil
	}
	return nil, nil
}

func sessionIdentity(s *billing.Session) ledger.Identity {
	id := ledger.Identity{
		UID:        s.Metadata[checkout.MetaUID],
		Email:      s.Metadata[checkout.MetaEmail],
		CustomerID: s.CustomerID,
	}
	if id.UID == "" {
		id.UID = s.ClientReferenceID
	}
	if id.Email == "" {
		id.Email = s.CustomerEmail
	}
	return id
}

func (p *Processor) handleCheckout(ctx context.Context, event *billing.Event) Result {
	s := event.Session
	if s == nil {
		return Result{State: Rejected, Err: fmt.Errorf("%w: event has no checkout session", billing.ErrInvalidWebhookPayload)}
	}
	if event.Type == billing.EventCheckoutCompleted && !s.Paid() {
		p.logger.Info("Checkout completed without payment, awaiting async confirmation",
			fulfill.F("session_id", s.ID),
			fulfill.F("payment_status", s.PaymentStatus))
		if id := sessionIdentity(s); id.CustomerID != "" {
			if _, err := p.ledger.LinkCustomer(ctx, id); err != nil && !errors.Is(err, ledger.ErrNoTarget) {
				return classify(err)
			}
		}
		return Result{State: Applied, Ignored: true}
	}

	items, err := Intent(s.Metadata)
	if err != nil {
		return classify(err)
	}
	if len(items) == 0 {
		p.logger.Warn("Checkout session carries no purchase intent", fulfill.F("session_id", s.ID))
		return Result{State: Applied, Ignored: true}
	}

	lines := make([]line, 0, len(items))
	recurring := 0
	for _, it := range items {
		prod, err := p.catalog.Get(it.ProductID)
		if err != nil {
			return classify(err)
		}
		if prod.Recurring() {
			recurring++
		}
		lines = append(lines, line{item: it, product: prod})
	}

	id := sessionIdentity(s)
	switch {
	case recurring > 0 && len(lines) > 1:
		p.logger.Error("Recurring product in multi-item cart, nothing applied",
			fulfill.F("session_id", s.ID),
			fulfill.F("items", len(lines)))
		return classify(ErrMixedRecurringCart)
	case recurring == 1:
		err = p.applySubscriptionCheckout(ctx, event, id, lines[0])
	default:
		err = p.applyOneTime(ctx, event, id, lines)
	}
	if err != nil {
		return classify(err)
	}

	return classify(p.notify(ctx, event, id, lines))
}

func (p *Processor) applySubscriptionCheckout(ctx context.Context, event *billing.Event, id ledger.Identity, l line) error {
	s := event.Session
	if s.SubscriptionID == "" {
		return fmt.Errorf("%w: subscription session %s has no subscription", billing.ErrInvalidWebhookPayload, s.ID)
	}
	sub, err := p.provider.RetrieveSubscription(ctx, s.SubscriptionID)
	if err != nil {
		return err
	}
	key := s.Metadata[checkout.MetaEntitlementKey]
	if key == "" {
		key = l.product.EntitlementKey
	}
	if id.CustomerID == "" {
		id.CustomerID = sub.CustomerID
	}
	_, err = p.ledger.MergeSubscriptionEntitlement(ctx, id, key, subscriptionSnapshot(event, sub))
	return err
}

func (p *Processor) applyOneTime(ctx context.Context, event *billing.Event, id ledger.Identity, lines []line) error {
	s := event.Session
	changes := ledger.Changes{Entitlements: map[string]ledger.EntitlementSnapshot{}}
	for _, l := range lines {
		changes.Purchases = append(changes.Purchases, ledger.PurchaseSnapshot{
			ProductID: l.item.ProductID,
			Tier:      l.item.Tier,
			Status:    ledger.StatusPaid,
			SessionID: s.ID,
			Amount:    s.AmountTotal,
			Currency:  s.Currency,
			PaidAt:    event.Created,
		})
		if l.product.GrantsLifetime {
			var priceID string
			if r, err := p.catalog.ResolveTier(l.product.ID, l.item.Tier); err == nil {
				priceID = r.PriceID
			}
			changes.Entitlements[l.product.EntitlementKey] = ledger.Lifetime(priceID, id.CustomerID, event.Created)
		}
	}
	_, err := p.ledger.Apply(ctx, id, changes)
	return err
}

func (p *Processor) notify(ctx context.Context, event *billing.Event, id ledger.Identity, lines []line) error {
	s := event.Session
	reqs := make([]downloads.Request, 0, len(lines))
	items := make([]notify.Item, 0, len(lines))
	for _, l := range lines {
		reqs = append(reqs, downloads.Request{Key: l.product.DownloadKey, Tier: l.item.Tier})
		items = append(items, notify.Item{ProductID: l.item.ProductID, Tier: catalog.NormalizeTier(l.item.Tier)})
	}
	recipient := s.CustomerEmail
	if recipient == "" {
		recipient = id.Email
	}
	return p.dispatcher.PurchaseConfirmed(ctx, notify.Confirmation{
		SessionID:   s.ID,
		Trigger:     event.Type,
		Recipient:   recipient,
		Items:       items,
		Downloads:   p.downloads.ResolveAll(reqs),
		AmountTotal: s.AmountTotal,
		Currency:    s.Currency,
	})
}
