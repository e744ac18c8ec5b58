// Package ledger merges entitlement and purchase facts into user records.
//
// A record is located by uid, then by an equality lookup on email, and
// otherwise staged in a pending record keyed by the lowercased email. Every
// write is a merge-patch restricted to the keys being changed, so sibling
// entitlements and purchases are never overwritten.
package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/cart"
	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Collections and fields of the ledger documents.
const (
	CollectionUsers   = "users"
	CollectionPending = "pendingEntitlements"

	FieldEmail        = "email"
	FieldCustomerID   = "stripeCustomerId"
	FieldEntitlements = "entitlements"
	FieldPurchases    = "purchases"
	FieldUpdatedAt    = "updatedAt"
)

// ErrNoTarget is returned when neither a uid nor an email identifies the buyer.
var ErrNoTarget = errors.New("ledger: no uid or email to attach entitlement to")

// Identity identifies the buyer of an event.
type Identity struct {
	UID        string
	Email      string
	CustomerID string
}

// Target is the document a write lands on.
type Target struct {
	Collection string
	ID         string
}

// Pending reports whether the target is a staging record.
func (t Target) Pending() bool {
	return t.Collection == CollectionPending
}

func (t Target) String() string {
	return t.Collection + "/" + t.ID
}

// Result reports what a ledger operation did.
type Result struct {
	// Skipped is set when the document store is not configured and nothing
	// was written.
	Skipped bool
	Target  Target
}

// Changes is a set of facts applied in one patch.
type Changes struct {
	// Entitlements maps entitlement key to its new snapshot.
	Entitlements map[string]EntitlementSnapshot
	// Purchases are keyed by cart.PurchaseKey(ProductID, Tier).
	Purchases []PurchaseSnapshot
}

func (c Changes) empty() bool {
	return len(c.Entitlements) == 0 && len(c.Purchases) == 0
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l fulfill.Logger) Option {
	return func(led *Ledger) { led.logger = fulfill.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m fulfill.Metrics) Option {
	return func(led *Ledger) { led.metrics = fulfill.MetricsOrNoop(m) }
}

// WithClock overrides the clock used for snapshots without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

// Ledger writes entitlement and purchase snapshots.
type Ledger struct {
	store   docstore.Store
	logger  fulfill.Logger
	metrics fulfill.Metrics
	now     func() time.Time
}

// New creates a Ledger over store. A nil store behaves as docstore.Disabled.
func New(store docstore.Store, opts ...Option) *Ledger {
	if store == nil {
		store = docstore.Disabled{}
	}
	l := &Ledger{
		store:   store,
		logger:  &fulfill.NoopLogger{},
		metrics: &fulfill.NoopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether writes reach a document store.
func (l *Ledger) Enabled() bool {
	return l.store.Enabled()
}

// ResolveTarget locates the record for id: users/{uid} when a uid is known,
// else the user whose email matches, else the pending record for the email.
func (l *Ledger) ResolveTarget(ctx context.Context, id Identity) (Target, error) {
	if uid := strings.TrimSpace(id.UID); uid != "" {
		return Target{Collection: CollectionUsers, ID: uid}, nil
	}
	email := normalizeEmail(id.Email)
	if email == "" {
		return Target{}, ErrNoTarget
	}
	doc, err := l.store.QueryEqual(ctx, CollectionUsers, docstore.Path(FieldEmail), docstore.String(email))
	if err != nil {
		return Target{}, err
	}
	if doc != nil {
		return Target{Collection: CollectionUsers, ID: doc.ID}, nil
	}
	return Target{Collection: CollectionPending, ID: email}, nil
}

// MergeSubscriptionEntitlement writes the snapshot under entitlements.<key>.
func (l *Ledger) MergeSubscriptionEntitlement(ctx context.Context, id Identity, key string,
	snap EntitlementSnapshot) (Result, error) {
	return l.apply(ctx, "subscription", id, Changes{Entitlements: map[string]EntitlementSnapshot{key: snap}})
}

// MergeLifetimeEntitlement grants key permanently.
func (l *Ledger) MergeLifetimeEntitlement(ctx context.Context, id Identity, key, priceID string,
	at time.Time) (Result, error) {
	snap := Lifetime(priceID, id.CustomerID, at)
	return l.apply(ctx, "lifetime", id, Changes{Entitlements: map[string]EntitlementSnapshot{key: snap}})
}

// RecordPurchase writes the purchase under purchases.<purchase key>. A
// repeat purchase of the same product and tier overwrites the earlier one.
func (l *Ledger) RecordPurchase(ctx context.Context, id Identity, p PurchaseSnapshot) (Result, error) {
	return l.apply(ctx, "purchase", id, Changes{Purchases: []PurchaseSnapshot{p}})
}

// Apply writes all changes to a single target in one patch, so a cart is
// either fully recorded or not at all.
func (l *Ledger) Apply(ctx context.Context, id Identity, changes Changes) (Result, error) {
	return l.apply(ctx, "fulfill", id, changes)
}

// LinkCustomer stores the processor customer id on the buyer's record
// without touching entitlements or purchases.
func (l *Ledger) LinkCustomer(ctx context.Context, id Identity) (Result, error) {
	if id.CustomerID == "" {
		return Result{}, errors.New("ledger: link customer: empty customer id")
	}
	return l.apply(ctx, "link_customer", id, Changes{})
}

func (l *Ledger) apply(ctx context.Context, op string, id Identity, changes Changes) (Result, error) {
	if !l.store.Enabled() {
		l.skipped(op)
		return Result{Skipped: true}, nil
	}

	target, err := l.ResolveTarget(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrDisabled) {
			l.skipped(op)
			return Result{Skipped: true}, nil
		}
		l.metrics.RecordLedgerWrite(op, "", "error")
		return Result{}, err
	}

	updates := l.updates(target, id, changes)
	if err := l.store.Patch(ctx, target.Collection, target.ID, updates...); err != nil {
		if errors.Is(err, docstore.ErrDisabled) {
			l.skipped(op)
			return Result{Skipped: true}, nil
		}
		l.metrics.RecordLedgerWrite(op, target.Collection, "error")
		l.logger.Error("Ledger write failed",
			fulfill.F("operation", op),
			fulfill.F("target", target.String()),
			fulfill.F("error", err.Error()))
		return Result{}, err
	}

	l.metrics.RecordLedgerWrite(op, target.Collection, "written")
	l.logger.Info("Ledger updated",
		fulfill.F("operation", op),
		fulfill.F("target", target.String()),
		fulfill.F("entitlements", len(changes.Entitlements)),
		fulfill.F("purchases", len(changes.Purchases)))
	return Result{Target: target}, nil
}

func (l *Ledger) skipped(op string) {
	l.metrics.RecordLedgerWrite(op, "", "skipped")
	l.logger.Warn("Document store not configured, ledger write skipped", fulfill.F("operation", op))
}

// updates renders changes as field-scoped updates. Only the named
// entitlement and purchase keys are touched.
func (l *Ledger) updates(target Target, id Identity, changes Changes) []docstore.Update {
	now := l.now().UTC()
	var out []docstore.Update

	keys := make([]string, 0, len(changes.Entitlements))
	for k := range changes.Entitlements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		snap := changes.Entitlements[key]
		if snap.UpdatedAt.IsZero() {
			snap.UpdatedAt = now
		}
		if snap.CustomerID == "" {
			snap.CustomerID = id.CustomerID
		}
		out = append(out, docstore.Update{Path: docstore.Path(FieldEntitlements, key), Value: snap.value()})
	}

	seen := make(map[string]bool, len(changes.Purchases))
	for _, p := range changes.Purchases {
		key := cart.PurchaseKey(p.ProductID, p.Tier)
		if seen[key] {
			continue
		}
		seen[key] = true
		if p.PaidAt.IsZero() {
			p.PaidAt = now
		}
		out = append(out, docstore.Update{Path: docstore.Path(FieldPurchases, key), Value: p.value()})
	}

	if id.CustomerID != "" {
		out = append(out, docstore.Set(id.CustomerID, FieldCustomerID))
	}
	if target.Pending() {
		out = append(out, docstore.Set(target.ID, FieldEmail))
	}
	out = append(out, docstore.Set(l.updatedAt(changes, now), FieldUpdatedAt))
	return out
}

// updatedAt is the latest snapshot time in changes, so replaying the same
// facts writes the same document.
func (l *Ledger) updatedAt(changes Changes, now time.Time) time.Time {
	var latest time.Time
	for _, s := range changes.Entitlements {
		if s.UpdatedAt.After(latest) {
			latest = s.UpdatedAt
		}
	}
	for _, p := range changes.Purchases {
		if p.PaidAt.After(latest) {
			latest = p.PaidAt
		}
	}
	if latest.IsZero() {
		return now
	}
	return latest.UTC()
}

// FindByCustomer returns the uid of the user linked to customerID, or "".
func (l *Ledger) FindByCustomer(ctx context.Context, customerID string) (string, error) {
	if customerID == "" || !l.store.Enabled() {
		return "", nil
	}
	doc, err := l.store.QueryEqual(ctx, CollectionUsers, docstore.Path(FieldCustomerID), docstore.String(customerID))
	if err != nil || doc == nil {
		return "", err
	}
	return doc.ID, nil
}

// CustomerID returns the processor customer id stored on users/{uid}.
func (l *Ledger) CustomerID(ctx context.Context, uid string) (string, error) {
	if !l.store.Enabled() {
		return "", docstore.ErrDisabled
	}
	doc, err := l.store.Get(ctx, CollectionUsers, uid)
	if err != nil || doc == nil {
		return "", err
	}
	return doc.Fields.String(FieldCustomerID), nil
}

// Record is the ledger view of a user or pending document.
type Record struct {
	Target       Target
	Email        string
	CustomerID   string
	Entitlements map[string]EntitlementSnapshot
	Purchases    map[string]PurchaseSnapshot
}

// Load reads the record at target, or nil when it does not exist.
func (l *Ledger) Load(ctx context.Context, target Target) (*Record, error) {
	doc, err := l.store.Get(ctx, target.Collection, target.ID)
	if err != nil || doc == nil {
		return nil, err
	}
	rec := &Record{
		Target:       target,
		Email:        doc.Fields.String(FieldEmail),
		CustomerID:   doc.Fields.String(FieldCustomerID),
		Entitlements: map[string]EntitlementSnapshot{},
		Purchases:    map[string]PurchaseSnapshot{},
	}
	ents := doc.Fields.Map(FieldEntitlements)
	for _, k := range ents.Keys() {
		rec.Entitlements[k] = EntitlementFromMap(ents.Map(k))
	}
	purchases := doc.Fields.Map(FieldPurchases)
	for _, k := range purchases.Keys() {
		rec.Purchases[k] = PurchaseFromMap(purchases.Map(k))
	}
	return rec, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
