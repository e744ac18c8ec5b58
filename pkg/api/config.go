package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/catalog"
	"github.com/mihaimyh/gofulfill/pkg/checkout"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
	"github.com/mihaimyh/gofulfill/pkg/ledger"
	"github.com/mihaimyh/gofulfill/pkg/webhook"
)

// Body size limits.
const (
	MaxCheckoutBody int64 = 16 << 10
	MaxWebhookBody  int64 = 256 << 10
)

// Config holds configuration for the fulfillment HTTP handler
type Config struct {
	// Checkout builds checkout sessions (required)
	Checkout *checkout.Builder

	// Provider is used for portal sessions and download validation (required)
	Provider billing.Provider

	// Catalog maps purchased products to download keys (required)
	Catalog *catalog.Catalog

	// Ledger looks up customer ids for the portal (required)
	Ledger *ledger.Ledger

	// Downloads resolves download links (required)
	Downloads *downloads.Resolver

	// Webhook processes payment events (required)
	Webhook *webhook.Processor

	// MetricsHandler is mounted at /metrics when set
	MetricsHandler http.Handler

	// CheckoutRateLimit and WebhookRateLimit cap requests per client IP per
	// RateLimitWindow. Zero disables limiting.
	CheckoutRateLimit int
	WebhookRateLimit  int
	RateLimitWindow   time.Duration

	Logger  fulfill.Logger
	Metrics fulfill.Metrics
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch {
	case c.Checkout == nil:
		return fmt.Errorf("checkout builder is required")
	case c.Provider == nil:
		return fmt.Errorf("billing provider is required")
	case c.Catalog == nil:
		return fmt.Errorf("catalog is required")
	case c.Ledger == nil:
		return fmt.Errorf("ledger is required")
	case c.Downloads == nil:
		return fmt.Errorf("downloads resolver is required")
	case c.Webhook == nil:
		return fmt.Errorf("webhook processor is required")
	}
	return nil
}
