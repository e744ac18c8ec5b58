package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/storage/memory"
)

var (
	paidAt    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Storage) {
	t.Helper()
	store := memory.New()
	return New(store, WithClock(func() time.Time { return paidAt })), store
}

func load(t *testing.T, l *Ledger, target Target) *Record {
	t.Helper()
	rec, err := l.Load(context.Background(), target)
	require.NoError(t, err)
	require.NotNil(t, rec, "record %s missing", target)
	return rec
}

func TestLifetimeByUID(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id := Identity{UID: "u1", CustomerID: "cus_1"}

	res, err := l.Apply(ctx, id, Changes{
		Entitlements: map[string]EntitlementSnapshot{"app": Lifetime("price_lifetime", "", paidAt)},
		Purchases: []PurchaseSnapshot{{
			ProductID: "app-lifetime", Status: StatusPaid, SessionID: "cs_1",
			Amount: 4900, Currency: "usd", PaidAt: paidAt,
		}},
	})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, Target{Collection: CollectionUsers, ID: "u1"}, res.Target)

	rec := load(t, l, res.Target)
	app := rec.Entitlements["app"]
	assert.True(t, app.Active)
	assert.Equal(t, StatusPaid, app.Status)
	assert.Nil(t, app.CurrentPeriodEnd)
	assert.Empty(t, app.SubscriptionID)
	assert.Equal(t, "cus_1", app.CustomerID)
	assert.Equal(t, StatusPaid, rec.Purchases["app-lifetime"].Status)
	assert.Equal(t, int64(4900), rec.Purchases["app-lifetime"].Amount)
	assert.Equal(t, "cus_1", rec.CustomerID)
}

func TestMergePreservesSiblingEntitlements(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id := Identity{UID: "u1"}

	_, err := l.MergeLifetimeEntitlement(ctx, id, "download:anki", "price_anki", paidAt)
	require.NoError(t, err)
	_, err = l.RecordPurchase(ctx, id, PurchaseSnapshot{ProductID: "anki-deck", Status: StatusPaid, SessionID: "cs_0"})
	require.NoError(t, err)

	_, err = l.MergeSubscriptionEntitlement(ctx, id, "app", EntitlementSnapshot{
		Active: true, Status: "active", CurrentPeriodEnd: &periodEnd,
		SubscriptionID: "sub_1", PriceID: "price_monthly", UpdatedAt: paidAt,
	})
	require.NoError(t, err)

	rec := load(t, l, Target{Collection: CollectionUsers, ID: "u1"})
	require.Contains(t, rec.Entitlements, "download:anki")
	assert.True(t, rec.Entitlements["download:anki"].Active)
	assert.Contains(t, rec.Purchases, "anki-deck")

	app := rec.Entitlements["app"]
	assert.Equal(t, "sub_1", app.SubscriptionID)
	require.NotNil(t, app.CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*app.CurrentPeriodEnd))
}

func TestPendingRecordForUnknownEmail(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	res, err := l.Apply(ctx, Identity{Email: "A@B.com "}, Changes{Purchases: []PurchaseSnapshot{
		{ProductID: "vocabulary-one-hsk", Tier: "HSK 3", Status: StatusPaid, SessionID: "cs_1"},
		{ProductID: "writing-one-hsk", Tier: "hsk3", Status: StatusPaid, SessionID: "cs_1"},
	}})
	require.NoError(t, err)
	assert.True(t, res.Target.Pending())
	assert.Equal(t, "a@b.com", res.Target.ID)

	rec := load(t, l, res.Target)
	assert.Equal(t, "a@b.com", rec.Email)
	assert.Contains(t, rec.Purchases, "vocabulary-one-hsk#hsk3")
	assert.Contains(t, rec.Purchases, "writing-one-hsk#hsk3")
	assert.Equal(t, "HSK 3", rec.Purchases["vocabulary-one-hsk#hsk3"].Tier)
}

func TestEmailLookupFindsExistingUser(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, store.Patch(ctx, CollectionUsers, "u9", docstore.Set("a@b.com", FieldEmail)))

	res, err := l.MergeLifetimeEntitlement(ctx, Identity{Email: "a@b.com"}, "app", "price_lifetime", paidAt)
	require.NoError(t, err)
	assert.Equal(t, Target{Collection: CollectionUsers, ID: "u9"}, res.Target)

	pending, err := store.Get(ctx, CollectionPending, "a@b.com")
	require.NoError(t, err)
	assert.Nil(t, pending)

	// The user's own email field is left alone.
	rec := load(t, l, res.Target)
	assert.Equal(t, "a@b.com", rec.Email)
}

func TestReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	changes := Changes{
		Entitlements: map[string]EntitlementSnapshot{"app": Lifetime("price_lifetime", "", paidAt)},
		Purchases:    []PurchaseSnapshot{{ProductID: "app-lifetime", Status: StatusPaid, SessionID: "cs_1", PaidAt: paidAt}},
	}
	id := Identity{UID: "u1", CustomerID: "cus_1"}

	once, onceStore := newTestLedger(t)
	_, err := once.Apply(ctx, id, changes)
	require.NoError(t, err)

	twice, twiceStore := newTestLedger(t)
	// A different clock on replay must not change the document.
	_, err = twice.Apply(ctx, id, changes)
	require.NoError(t, err)
	twice.now = func() time.Time { return paidAt.Add(time.Hour) }
	_, err = twice.Apply(ctx, id, changes)
	require.NoError(t, err)

	a, err := onceStore.Get(ctx, CollectionUsers, "u1")
	require.NoError(t, err)
	b, err := twiceStore.Get(ctx, CollectionUsers, "u1")
	require.NoError(t, err)
	assert.True(t, docstore.Equal(a.Fields, b.Fields))
}

func TestNoTarget(t *testing.T) {
	l, store := newTestLedger(t)

	_, err := l.RecordPurchase(context.Background(), Identity{}, PurchaseSnapshot{ProductID: "anki-deck"})
	assert.ErrorIs(t, err, ErrNoTarget)
	assert.Zero(t, store.Len(CollectionUsers)+store.Len(CollectionPending))
}

func TestDisabledStoreSkips(t *testing.T) {
	l := New(nil)
	assert.False(t, l.Enabled())

	res, err := l.MergeLifetimeEntitlement(context.Background(), Identity{UID: "u1"}, "app", "", paidAt)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	uid, err := l.FindByCustomer(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Empty(t, uid)

	_, err = l.CustomerID(context.Background(), "u1")
	assert.ErrorIs(t, err, docstore.ErrDisabled)
}

type failingStore struct {
	docstore.Store
	err error
}

func (f failingStore) Patch(context.Context, string, string, ...docstore.Update) error { return f.err }

func TestPatchErrorPropagates(t *testing.T) {
	boom := errors.New("unavailable")
	l := New(failingStore{Store: memory.New(), err: boom})

	_, err := l.RecordPurchase(context.Background(), Identity{UID: "u1"}, PurchaseSnapshot{ProductID: "anki-deck"})
	assert.ErrorIs(t, err, boom)
}

func TestFindByCustomer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	uid, err := l.FindByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Empty(t, uid)

	_, err = l.RecordPurchase(ctx, Identity{UID: "u1", CustomerID: "cus_1"},
		PurchaseSnapshot{ProductID: "anki-deck", SessionID: "cs_1"})
	require.NoError(t, err)

	uid, err = l.FindByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	cid, err := l.CustomerID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", cid)
}

func TestLinkCustomer(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	res, err := l.LinkCustomer(ctx, Identity{Email: "Buyer@Example.com", CustomerID: "cus_9"})
	require.NoError(t, err)
	assert.True(t, res.Target.Pending())

	rec := load(t, l, res.Target)
	assert.Equal(t, "cus_9", rec.CustomerID)
	assert.Empty(t, rec.Entitlements)
	assert.Empty(t, rec.Purchases)
	assert.Equal(t, 0, store.Len(CollectionUsers))

	_, err = l.LinkCustomer(ctx, Identity{UID: "u1"})
	assert.Error(t, err)
}
