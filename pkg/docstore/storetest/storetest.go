// Package storetest is a conformance suite shared by the docstore backends.
package storetest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
)

// Run exercises store against the Store contract. Every test uses its own
// collection name derived from prefix so backends may share state.
func Run(t *testing.T, store docstore.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	col := func(name string) string { return prefix + name }

	t.Run("GetMissing", func(t *testing.T) {
		doc, err := store.Get(ctx, col("missing"), "nobody")
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("PatchCreatesDocument", func(t *testing.T) {
		c := col("create")
		require.NoError(t, store.Patch(ctx, c, "u1",
			docstore.Set("a@b.com", "email"),
			docstore.Set(int64(1299), "purchases", "app-lifetime", "amount"),
		))

		doc, err := store.Get(ctx, c, "u1")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "u1", doc.ID)
		assert.Equal(t, "a@b.com", doc.Fields.String("email"))
		amount, ok := doc.Fields.Lookup(docstore.Path("purchases", "app-lifetime", "amount"))
		require.True(t, ok)
		assert.Equal(t, docstore.Int(1299), amount)
	})

	t.Run("PatchMergesSiblingKeys", func(t *testing.T) {
		c := col("merge")
		require.NoError(t, store.Patch(ctx, c, "u1", docstore.Update{
			Path:  docstore.Path("entitlements", "download:anki"),
			Value: docstore.Map{"active": docstore.Bool(true)},
		}))
		require.NoError(t, store.Patch(ctx, c, "u1", docstore.Update{
			Path:  docstore.Path("entitlements", "app"),
			Value: docstore.Map{"active": docstore.Bool(true), "status": docstore.String("paid")},
		}))

		doc, err := store.Get(ctx, c, "u1")
		require.NoError(t, err)
		ents := doc.Fields.Map("entitlements")
		assert.True(t, ents.Map("download:anki").Bool("active"))
		assert.Equal(t, "paid", ents.Map("app").String("status"))
	})

	t.Run("PatchReplacesNamedPathOnly", func(t *testing.T) {
		c := col("replace")
		require.NoError(t, store.Patch(ctx, c, "u1",
			docstore.Update{Path: docstore.Path("entitlements", "app"), Value: docstore.Map{
				"active": docstore.Bool(true), "subscriptionId": docstore.String("sub_1"),
			}},
			docstore.Set("a@b.com", "email"),
		))
		require.NoError(t, store.Patch(ctx, c, "u1", docstore.Update{
			Path: docstore.Path("entitlements", "app"), Value: docstore.Map{"active": docstore.Bool(false)},
		}))

		doc, err := store.Get(ctx, c, "u1")
		require.NoError(t, err)
		assert.Equal(t, docstore.Map{"active": docstore.Bool(false)}, doc.Fields.Map("entitlements").Map("app"))
		assert.Equal(t, "a@b.com", doc.Fields.String("email"))
	})

	t.Run("PatchKeepsIntFloatDistinct", func(t *testing.T) {
		c := col("numbers")
		require.NoError(t, store.Patch(ctx, c, "n",
			docstore.Update{Path: docstore.Path("i"), Value: docstore.Int(math.MaxInt64)},
			docstore.Update{Path: docstore.Path("f"), Value: docstore.Float(2)},
		))

		doc, err := store.Get(ctx, c, "n")
		require.NoError(t, err)
		assert.Equal(t, docstore.Int(math.MaxInt64), doc.Fields["i"])
		assert.Equal(t, docstore.Float(2), doc.Fields["f"])
	})

	t.Run("PatchRejectsInvalidUpdates", func(t *testing.T) {
		err := store.Patch(ctx, col("invalid"), "u1")
		assert.ErrorIs(t, err, docstore.ErrInvalidUpdate)
	})

	t.Run("QueryEqual", func(t *testing.T) {
		c := col("query")
		require.NoError(t, store.Patch(ctx, c, "u1", docstore.Set("a@b.com", "email")))
		require.NoError(t, store.Patch(ctx, c, "u2",
			docstore.Set("c@d.com", "email"),
			docstore.Set("cus_2", "stripeCustomerId"),
		))

		doc, err := store.QueryEqual(ctx, c, docstore.Path("stripeCustomerId"), docstore.String("cus_2"))
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "u2", doc.ID)

		doc, err = store.QueryEqual(ctx, c, docstore.Path("email"), docstore.String("nobody@x.com"))
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("Enabled", func(t *testing.T) {
		assert.True(t, store.Enabled())
	})
}
