// Package cart normalizes multi-item carts and encodes them into the compact
// token carried in checkout session metadata.
package cart

import (
	"strings"

	"github.com/mihaimyh/gofulfill/pkg/catalog"
)

// MaxItems is the largest cart accepted after normalization.
const MaxItems = 20

// Item is one (product, tier) pair in a cart.
type Item struct {
	ProductID string `json:"productId" validate:"required,max=100"`
	Tier      string `json:"level,omitempty" validate:"max=100"`
}

// Key is the purchase key of the item.
func (i Item) Key() string {
	return PurchaseKey(i.ProductID, i.Tier)
}

// PurchaseKey is productID alone, or productID#tier with the tier lowercased
// and stripped of whitespace.
func PurchaseKey(productID, tier string) string {
	if t := catalog.NormalizeTier(tier); t != "" {
		return productID + "#" + t
	}
	return productID
}

// Normalize trims product ids, canonicalizes tiers, drops items without a
// product and collapses duplicates, keeping first-seen order.
func Normalize(items []Item) []Item {
	out := make([]Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		n := Item{
			ProductID: strings.TrimSpace(it.ProductID),
			Tier:      catalog.NormalizeTier(it.Tier),
		}
		if n.ProductID == "" {
			continue
		}
		key := n.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
