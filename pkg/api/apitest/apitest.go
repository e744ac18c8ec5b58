// Package apitest builds a fully wired api.Handler over in-memory
// dependencies for router adapter tests.
package apitest

import (
	"testing"

	"github.com/mihaimyh/gofulfill/pkg/api"
	"github.com/mihaimyh/gofulfill/pkg/billing/billingtest"
	stripeprovider "github.com/mihaimyh/gofulfill/pkg/billing/stripe"
	"github.com/mihaimyh/gofulfill/pkg/catalog"
	"github.com/mihaimyh/gofulfill/pkg/checkout"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/ledger"
	"github.com/mihaimyh/gofulfill/pkg/notify"
	"github.com/mihaimyh/gofulfill/pkg/webhook"
	"github.com/mihaimyh/gofulfill/storage/memory"
)

// WebhookSecret is the signing secret the handler's verifier accepts.
const WebhookSecret = "whsec_apitest"

// Prices configures the app and anki products.
var Prices = map[string]string{
	"STRIPE_PRICE_APP_MONTHLY":  "price_monthly",
	"STRIPE_PRICE_APP_LIFETIME": "price_lifetime",
	"STRIPE_PRICE_ANKI_DECK":    "price_anki",
}

// Fixture is a handler with its fake provider and store.
type Fixture struct {
	Handler  *api.Handler
	Provider *billingtest.Provider
	Store    *memory.Storage
}

// New returns a handler wired to a fake provider and a memory store.
func New(t testing.TB) *Fixture {
	t.Helper()
	cat, err := catalog.Default(Prices)
	must(t, err)
	res, err := downloads.Default("https://cdn.example.com")
	must(t, err)

	provider := billingtest.New()
	store := memory.New()
	led := ledger.New(store)

	builder, err := checkout.New(checkout.Config{
		Catalog:   cat,
		Provider:  provider,
		Redirects: checkout.Redirects{AppBaseURL: "https://app.example.com", StorefrontBaseURL: "https://shop.example.com"},
	})
	must(t, err)
	dispatcher, err := notify.NewDispatcher(nil, nil)
	must(t, err)
	proc, err := webhook.New(webhook.Config{
		Verifier:   stripeprovider.NewVerifier(WebhookSecret),
		Provider:   provider,
		Catalog:    cat,
		Ledger:     led,
		Downloads:  res,
		Dispatcher: dispatcher,
	})
	must(t, err)

	h, err := api.NewHandler(api.Config{
		Checkout:  builder,
		Provider:  provider,
		Catalog:   cat,
		Ledger:    led,
		Downloads: res,
		Webhook:   proc,
	})
	must(t, err)
	return &Fixture{Handler: h, Provider: provider, Store: store}
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("apitest: %v", err)
	}
}
