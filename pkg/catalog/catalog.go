// Package catalog resolves product identifiers to their billing definition
// and the price ids injected through configuration. It performs no I/O.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Mode is the billing mode of a product.
type Mode string

const (
	ModeOneTime   Mode = "one-time"
	ModeRecurring Mode = "recurring"
)

// URLRole selects which configured base URL checkout redirects use.
type URLRole string

const (
	RoleApp        URLRole = "app"
	RoleStorefront URLRole = "storefront"
)

// Product is an immutable product definition.
type Product struct {
	ID             string            `yaml:"id" validate:"required"`
	Mode           Mode              `yaml:"mode" validate:"required,oneof=one-time recurring"`
	PriceEnv       string            `yaml:"price_env" validate:"required"`
	TierPrices     map[string]string `yaml:"tier_prices" validate:"omitempty,dive,keys,required,endkeys,required"`
	EntitlementKey string            `yaml:"entitlement_key" validate:"required"`
	DownloadKey    string            `yaml:"download_key"`
	RequiresTier   bool              `yaml:"requires_tier"`
	GrantsLifetime bool              `yaml:"grants_lifetime"`
	URLRole        URLRole           `yaml:"url_role" validate:"required,oneof=app storefront"`
}

// Recurring reports whether the product is billed as a subscription.
func (p Product) Recurring() bool {
	return p.Mode == ModeRecurring
}

// Resolved is a product together with the price id to charge.
type Resolved struct {
	Product
	PriceID string
}

type manifest struct {
	Products []Product `yaml:"products" validate:"required,min=1,dive"`
}

//go:embed products.yaml
var defaultManifest []byte

// Catalog is a static product lookup.
type Catalog struct {
	products map[string]Product
	order    []string
	prices   map[string]string
}

// New builds a catalog from products. prices maps configuration keys such as
// STRIPE_PRICE_APP_LIFETIME to processor price ids.
func New(products []Product, prices map[string]string) (*Catalog, error) {
	validate := validator.New()
	if err := validate.Struct(manifest{Products: products}); err != nil {
		return nil, fmt.Errorf("invalid product manifest: %w", err)
	}

	c := &Catalog{products: make(map[string]Product, len(products)), prices: map[string]string{}}
	for _, p := range products {
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("invalid product manifest: duplicate product %q", p.ID)
		}
		if len(p.TierPrices) > 0 {
			normalized := make(map[string]string, len(p.TierPrices))
			for tier, key := range p.TierPrices {
				normalized[NormalizeTier(tier)] = key
			}
			p.TierPrices = normalized
		}
		c.products[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	for k, v := range prices {
		if v = strings.TrimSpace(v); v != "" {
			c.prices[k] = v
		}
	}
	return c, nil
}

// Parse decodes a YAML manifest.
func Parse(data []byte, prices map[string]string) (*Catalog, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse product manifest: %w", err)
	}
	return New(m.Products, prices)
}

// Default returns the catalog built from the embedded manifest.
func Default(prices map[string]string) (*Catalog, error) {
	return Parse(defaultManifest, prices)
}

// Get returns the product definition without resolving its price.
func (c *Catalog) Get(id string) (Product, error) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, fulfill.Wrap(fulfill.ErrProductNotFound, "%q", id)
	}
	return p, nil
}

// Products returns all products in manifest order.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// Resolve returns the product and its base price id.
func (c *Catalog) Resolve(id string) (Resolved, error) {
	return c.ResolveTier(id, "")
}

// ResolveTier is Resolve honoring a per-tier price override. A tier with no
// override, or whose override key is unset, uses the base price.
func (c *Catalog) ResolveTier(id, tier string) (Resolved, error) {
	p, err := c.Get(id)
	if err != nil {
		return Resolved{}, err
	}

	if tier != "" {
		if key, ok := p.TierPrices[NormalizeTier(tier)]; ok {
			if price := c.prices[key]; price != "" {
				return Resolved{Product: p, PriceID: price}, nil
			}
		}
	}

	price := c.prices[p.PriceEnv]
	if price == "" {
		return Resolved{}, fulfill.Wrap(fulfill.ErrPriceNotConfigured, "%s (%s)", id, p.PriceEnv)
	}
	return Resolved{Product: p, PriceID: price}, nil
}

// ByPriceID finds the product charged at priceID, including tier prices.
func (c *Catalog) ByPriceID(priceID string) (Product, bool) {
	if priceID == "" {
		return Product{}, false
	}
	for _, id := range c.order {
		p := c.products[id]
		if c.prices[p.PriceEnv] == priceID {
			return p, true
		}
		tiers := make([]string, 0, len(p.TierPrices))
		for tier := range p.TierPrices {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			if c.prices[p.TierPrices[tier]] == priceID {
				return p, true
			}
		}
	}
	return Product{}, false
}

// PriceKey is the conventional configuration key for a product's price:
// STRIPE_PRICE_ followed by the upper-cased id with dashes as underscores.
func PriceKey(productID string, tier ...string) string {
	parts := []string{"STRIPE_PRICE", envSegment(productID)}
	for _, t := range tier {
		parts = append(parts, envSegment(NormalizeTier(t)))
	}
	return strings.Join(parts, "_")
}

func envSegment(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ":", "_", ".", "_").Replace(s))
}

// NormalizeTier lowercases tier and strips all whitespace, so "HSK 3" and
// "hsk3" name the same tier.
func NormalizeTier(tier string) string {
	var b strings.Builder
	b.Grow(len(tier))
	for _, r := range tier {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
