// Package stripe implements billing.Provider and billing.EventVerifier on top
// of stripe-go.
package stripe

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

const providerName = "stripe"

// Config holds Stripe provider configuration
type Config struct {
	// SecretKey is the Stripe secret API key (sk_live_... / sk_test_...)
	SecretKey string

	// Backends overrides the API backends, e.g. to point at a local mock.
	Backends *stripe.Backends

	Logger  fulfill.Logger
	Metrics fulfill.Metrics
}

// Provider implements billing.Provider for Stripe
type Provider struct {
	stripeClient *stripe.Client
	logger       fulfill.Logger
	metrics      fulfill.Metrics
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.SecretKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	var opts []stripe.ClientOption
	if config.Backends != nil {
		opts = append(opts, stripe.WithBackends(config.Backends))
	}

	return &Provider{
		stripeClient: stripe.NewClient(apiKey, opts...),
		logger:       fulfill.OrNoop(config.Logger),
		metrics:      fulfill.MetricsOrNoop(config.Metrics),
	}, nil
}

// Name implements billing.Provider
func (p *Provider) Name() string {
	return providerName
}

// observe records the outcome and latency of one API call.
func (p *Provider) observe(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(endpoint, status)
	p.metrics.RecordAPICallDuration(endpoint, time.Since(start))
}
