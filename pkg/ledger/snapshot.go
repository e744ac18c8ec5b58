package ledger

import (
	"time"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
)

// Statuses written by the ledger. Subscription entitlements carry the
// processor's subscription status verbatim.
const (
	StatusPaid = "paid"
)

// EntitlementSnapshot is the state of one entitlement key on a user.
type EntitlementSnapshot struct {
	Active            bool
	Status            string
	CurrentPeriodEnd  *time.Time
	SubscriptionID    string
	PriceID           string
	CustomerID        string
	CancelAtPeriodEnd bool
	UpdatedAt         time.Time
}

// Lifetime returns the snapshot for a permanent one-time grant.
func Lifetime(priceID, customerID string, at time.Time) EntitlementSnapshot {
	return EntitlementSnapshot{
		Active:     true,
		Status:     StatusPaid,
		PriceID:    priceID,
		CustomerID: customerID,
		UpdatedAt:  at,
	}
}

func (s EntitlementSnapshot) value() docstore.Value {
	m := docstore.Map{
		"active":            docstore.Bool(s.Active),
		"status":            docstore.String(s.Status),
		"priceId":           docstore.String(s.PriceID),
		"customerId":        docstore.String(s.CustomerID),
		"cancelAtPeriodEnd": docstore.Bool(s.CancelAtPeriodEnd),
		"updatedAt":         docstore.MustNative(s.UpdatedAt),
	}
	if s.CurrentPeriodEnd != nil {
		m["currentPeriodEnd"] = docstore.MustNative(s.CurrentPeriodEnd)
	}
	if s.SubscriptionID != "" {
		m["subscriptionId"] = docstore.String(s.SubscriptionID)
	}
	return m
}

// EntitlementFromMap reads a stored snapshot.
func EntitlementFromMap(m docstore.Map) EntitlementSnapshot {
	s := EntitlementSnapshot{
		Active:            m.Bool("active"),
		Status:            m.String("status"),
		SubscriptionID:    m.String("subscriptionId"),
		PriceID:           m.String("priceId"),
		CustomerID:        m.String("customerId"),
		CancelAtPeriodEnd: m.Bool("cancelAtPeriodEnd"),
		UpdatedAt:         parseTime(m.String("updatedAt")),
	}
	if end := parseTime(m.String("currentPeriodEnd")); !end.IsZero() {
		s.CurrentPeriodEnd = &end
	}
	return s
}

// PurchaseSnapshot records one fulfilled product (and tier) from a session.
type PurchaseSnapshot struct {
	ProductID string
	Tier      string
	Status    string
	SessionID string
	Amount    int64
	Currency  string
	PaidAt    time.Time
}

func (p PurchaseSnapshot) value() docstore.Value {
	m := docstore.Map{
		"productId": docstore.String(p.ProductID),
		"status":    docstore.String(p.Status),
		"sessionId": docstore.String(p.SessionID),
		"amount":    docstore.Int(p.Amount),
		"currency":  docstore.String(p.Currency),
		"paidAt":    docstore.MustNative(p.PaidAt),
	}
	if p.Tier != "" {
		m["tier"] = docstore.String(p.Tier)
	}
	return m
}

// PurchaseFromMap reads a stored purchase.
func PurchaseFromMap(m docstore.Map) PurchaseSnapshot {
	return PurchaseSnapshot{
		ProductID: m.String("productId"),
		Tier:      m.String("tier"),
		Status:    m.String("status"),
		SessionID: m.String("sessionId"),
		Amount:    m.Int("amount"),
		Currency:  m.String("currency"),
		PaidAt:    parseTime(m.String("paidAt")),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
