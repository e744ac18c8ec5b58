// Package checkout builds hosted checkout sessions for single products and
// carts, attaching the metadata the webhook needs to reconstruct intent.
package checkout

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/cart"
	"github.com/mihaimyh/gofulfill/pkg/catalog"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Session metadata keys.
const (
	MetaProductID      = "productId"
	MetaEntitlementKey = "entitlementKey"
	MetaUID            = "uid"
	MetaEmail          = "email"
	MetaTier           = "tier"
)

// Redirects holds the base URLs checkout returns to, per URL role.
type Redirects struct {
	AppBaseURL        string
	StorefrontBaseURL string
}

// URLs returns the success and cancel destinations for role. The success URL
// carries Stripe's session id placeholder.
func (r Redirects) URLs(role catalog.URLRole) (success, cancel string, err error) {
	base := r.AppBaseURL
	if role == catalog.RoleStorefront {
		base = r.StorefrontBaseURL
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", "", fulfill.Wrap(fulfill.ErrRedirectNotConfigured, "no base url for role %q", role)
	}
	return base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}", base + "/checkout/cancel", nil
}

// Config configures a Builder.
type Config struct {
	Catalog   *catalog.Catalog
	Provider  billing.Provider
	Redirects Redirects
	Logger    fulfill.Logger
	Metrics   fulfill.Metrics
}

// Builder creates checkout sessions.
type Builder struct {
	catalog   *catalog.Catalog
	provider  billing.Provider
	redirects Redirects
	logger    fulfill.Logger
	metrics   fulfill.Metrics
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("checkout: catalog is required")
	}
	if cfg.Provider == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	return &Builder{
		catalog:   cfg.Catalog,
		provider:  cfg.Provider,
		redirects: cfg.Redirects,
		logger:    fulfill.OrNoop(cfg.Logger),
		metrics:   fulfill.MetricsOrNoop(cfg.Metrics),
	}, nil
}

// SingleRequest asks for a checkout of one product.
type SingleRequest struct {
	ProductID string
	UID       string
	Email     string
	Tier      string
}

// CartRequest asks for a checkout of several one-time products.
type CartRequest struct {
	Items []cart.Item
	UID   string
	Email string
}

// Single creates a session for one product.
func (b *Builder) Single(ctx context.Context, req SingleRequest) (*billing.Session, error) {
	params, err := b.SingleParams(req)
	if err != nil {
		b.metrics.RecordCheckoutSession("single", statusOf(err))
		return nil, err
	}
	return b.create(ctx, "single", params)
}

// Cart creates a session for a cart.
func (b *Builder) Cart(ctx context.Context, req CartRequest) (*billing.Session, error) {
	params, err := b.CartParams(req)
	if err != nil {
		b.metrics.RecordCheckoutSession("cart", statusOf(err))
		return nil, err
	}
	return b.create(ctx, "cart", params)
}

func (b *Builder) create(ctx context.Context, kind string, params billing.CheckoutParams) (*billing.Session, error) {
	session, err := b.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		b.metrics.RecordCheckoutSession(kind, statusOf(err))
		b.logger.Error("Checkout session creation failed",
			fulfill.F("kind", kind),
			fulfill.F("mode", params.Mode),
			fulfill.F("error", err.Error()))
		return nil, err
	}
	b.metrics.RecordCheckoutSession(kind, "success")
	b.logger.Info("Checkout session created",
		fulfill.F("kind", kind),
		fulfill.F("session_id", session.ID),
		fulfill.F("mode", params.Mode),
		fulfill.F("line_items", len(params.LineItems)))
	return session, nil
}

// SingleParams builds the session parameters for req without calling the
// payment processor.
func (b *Builder) SingleParams(req SingleRequest) (billing.CheckoutParams, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return billing.CheckoutParams{}, fulfill.Wrap(fulfill.ErrInvalidRequest, "productId is required")
	}
	p, err := b.catalog.Get(productID)
	if err != nil {
		return billing.CheckoutParams{}, err
	}
	tier := strings.TrimSpace(req.Tier)
	if p.RequiresTier && tier == "" {
		return billing.CheckoutParams{}, fulfill.Wrap(fulfill.ErrLevelRequired, "%s", productID)
	}
	resolved, err := b.catalog.ResolveTier(productID, tier)
	if err != nil {
		return billing.CheckoutParams{}, err
	}
	success, cancel, err := b.redirects.URLs(p.URLRole)
	if err != nil {
		return billing.CheckoutParams{}, err
	}

	metadata := map[string]string{
		MetaProductID:      p.ID,
		MetaEntitlementKey: p.EntitlementKey,
		MetaUID:            req.UID,
		MetaEmail:          req.Email,
		MetaTier:           tier,
	}
	params := billing.CheckoutParams{
		Mode:              billing.ModePayment,
		LineItems:         []billing.LineItem{{PriceID: resolved.PriceID, Quantity: 1}},
		SuccessURL:        success,
		CancelURL:         cancel,
		ClientReferenceID: req.UID,
		CustomerEmail:     req.Email,
		Metadata:          metadata,
	}
	if p.Recurring() {
		params.Mode = billing.ModeSubscription
		params.SubscriptionMetadata = maps.Clone(metadata)
	}
	return params, nil
}

// CartParams builds the session parameters for a cart. Items are normalized
// first; the cart must be non-empty, hold at most cart.MaxItems items, and
// contain only one-time products with their required tiers.
func (b *Builder) CartParams(req CartRequest) (billing.CheckoutParams, error) {
	items := cart.Normalize(req.Items)
	if len(items) == 0 {
		return billing.CheckoutParams{}, fulfill.ErrCartEmpty
	}
	if len(items) > cart.MaxItems {
		return billing.CheckoutParams{}, fulfill.Wrap(fulfill.ErrCartTooLarge, "%d items, max %d", len(items), cart.MaxItems)
	}

	var (
		quantities = make(map[string]int64)
		order      []string
		role       catalog.URLRole
	)
	for _, it := range items {
		p, err := b.catalog.Get(it.ProductID)
		if err != nil {
			return billing.CheckoutParams{}, err
		}
		if p.Recurring() {
			return billing.CheckoutParams{}, fulfill.Wrap(fulfill.ErrCartRecurringItem, "%s", p.ID)
		}
		if p.RequiresTier && it.Tier == "" {
			return billing.CheckoutParams{}, fulfill.Wrap(fulfill.ErrLevelRequired, "%s", p.ID)
		}
		resolved, err := b.catalog.ResolveTier(p.ID, it.Tier)
		if err != nil {
			return billing.CheckoutParams{}, err
		}
		if _, seen := quantities[resolved.PriceID]; !seen {
			order = append(order, resolved.PriceID)
		}
		quantities[resolved.PriceID]++
		role = mergeRole(role, p.URLRole)
	}

	success, cancel, err := b.redirects.URLs(role)
	if err != nil {
		return billing.CheckoutParams{}, err
	}

	lineItems := make([]billing.LineItem, 0, len(order))
	for _, price := range order {
		lineItems = append(lineItems, billing.LineItem{PriceID: price, Quantity: quantities[price]})
	}

	metadata := cart.EncodeMetadata(items)
	metadata[MetaUID] = req.UID
	metadata[MetaEmail] = req.Email

	return billing.CheckoutParams{
		Mode:              billing.ModePayment,
		LineItems:         lineItems,
		SuccessURL:        success,
		CancelURL:         cancel,
		ClientReferenceID: req.UID,
		CustomerEmail:     req.Email,
		Metadata:          metadata,
	}, nil
}

// mergeRole picks the redirect role for a cart: all-app carts return to the
// app, anything involving the storefront returns there.
func mergeRole(current, next catalog.URLRole) catalog.URLRole {
	if current == "" || current == next {
		return next
	}
	return catalog.RoleStorefront
}

func statusOf(err error) string {
	if code := fulfill.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
