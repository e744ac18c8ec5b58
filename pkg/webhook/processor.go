// Package webhook turns verified payment events into ledger writes and
// purchase confirmations.
//
// Processing is idempotent per event: ledger merges are keyed by entitlement
// and purchase key, and the confirmation is guarded by the session id, so a
// redelivered event converges on the same state.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/cart"
	"github.com/mihaimyh/gofulfill/pkg/catalog"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
	"github.com/mihaimyh/gofulfill/pkg/ledger"
	"github.com/mihaimyh/gofulfill/pkg/notify"
)

// DefaultEntitlementKey is used for subscriptions whose entitlement cannot be
// derived from metadata or price.
const DefaultEntitlementKey = "app"

// State is the terminal state of one event.
type State string

const (
	// Applied events are acknowledged with 200.
	Applied State = "applied"
	// Rejected events are acknowledged with 4xx and must not be retried.
	Rejected State = "rejected"
	// HandlerError events are answered with 5xx so the processor retries.
	HandlerError State = "handler_error"
)

// Result is the outcome of Handle.
type Result struct {
	State     State
	EventID   string
	EventType string
	// Ignored is set for applied events that required no work.
	Ignored bool
	Err     error
}

// Config wires a Processor.
type Config struct {
	Verifier   billing.EventVerifier
	Provider   billing.Provider
	Catalog    *catalog.Catalog
	Ledger     *ledger.Ledger
	Downloads  *downloads.Resolver
	Dispatcher *notify.Dispatcher
	Logger     fulfill.Logger
	Metrics    fulfill.Metrics
}

// Processor handles webhook deliveries.
type Processor struct {
	verifier   billing.EventVerifier
	provider   billing.Provider
	catalog    *catalog.Catalog
	ledger     *ledger.Ledger
	downloads  *downloads.Resolver
	dispatcher *notify.Dispatcher
	logger     fulfill.Logger
	metrics    fulfill.Metrics
}

// New creates a Processor. Verifier may be nil, in which case every delivery
// fails with billing.ErrWebhookNotConfigured.
func New(cfg Config) (*Processor, error) {
	if cfg.Provider == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	if cfg.Catalog == nil || cfg.Ledger == nil || cfg.Downloads == nil || cfg.Dispatcher == nil {
		return nil, errors.New("webhook: catalog, ledger, downloads and dispatcher are required")
	}
	return &Processor{
		verifier:   cfg.Verifier,
		provider:   cfg.Provider,
		catalog:    cfg.Catalog,
		ledger:     cfg.Ledger,
		downloads:  cfg.Downloads,
		dispatcher: cfg.Dispatcher,
		logger:     fulfill.OrNoop(cfg.Logger),
		metrics:    fulfill.MetricsOrNoop(cfg.Metrics),
	}, nil
}

// Handle verifies and processes one delivery.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) Result {
	start := time.Now()

	if p.verifier == nil {
		return p.finish(start, &billing.Event{}, Result{State: HandlerError, Err: billing.ErrWebhookNotConfigured})
	}
	event, err := p.verifier.ConstructEvent(payload, signature)
	if err != nil {
		res := Result{State: Rejected, Err: err}
		if errors.Is(err, billing.ErrWebhookNotConfigured) {
			res.State = HandlerError
		}
		return p.finish(start, &billing.Event{Type: "unverified"}, res)
	}

	var res Result
	switch event.Type {
	case billing.EventCheckoutCompleted, billing.EventCheckoutAsyncPaymentSucceeded:
		res = p.handleCheckout(ctx, event)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		res = p.handleSubscription(ctx, event)
	default:
		res = Result{State: Applied, Ignored: true}
	}
	return p.finish(start, event, res)
}

func (p *Processor) finish(start time.Time, event *billing.Event, res Result) Result {
	res.EventID = event.ID
	res.EventType = event.Type

	outcome := string(res.State)
	switch {
	case res.State == Applied && res.Ignored:
		outcome = "ignored"
	case res.State == HandlerError:
		outcome = "error"
	}
	p.metrics.RecordWebhookEvent(event.Type, outcome)
	p.metrics.RecordWebhookDuration(event.Type, time.Since(start))

	fields := []fulfill.Field{
		fulfill.F("event_id", event.ID),
		fulfill.F("event_type", event.Type),
		fulfill.F("outcome", outcome),
	}
	switch res.State {
	case Applied:
		p.logger.Info("Webhook processed", fields...)
	case Rejected:
		p.logger.Warn("Webhook rejected", append(fields, fulfill.F("error", errString(res.Err)))...)
	default:
		p.logger.Error("Webhook handler error", append(fields, fulfill.F("error", errString(res.Err)))...)
	}
	return res
}

// classify maps an apply error to a terminal state: configuration and
// authentication problems cannot be fixed by a retry, everything else can.
func classify(err error) Result {
	switch {
	case err == nil:
		return Result{State: Applied}
	case errors.Is(err, ledger.ErrNoTarget), errors.Is(err, cart.ErrMalformedToken),
		errors.Is(err, billing.ErrInvalidWebhookPayload):
		return Result{State: Rejected, Err: err}
	case fulfill.KindOf(err) == fulfill.KindConfiguration, fulfill.KindOf(err) == fulfill.KindAuthentication:
		return Result{State: Rejected, Err: err}
	default:
		return Result{State: HandlerError, Err: err}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrMixedRecurringCart is returned for a cart holding a recurring product
// alongside other items. Nothing is written for such a cart.
var ErrMixedRecurringCart = fmt.Errorf("%w: recurring product in multi-item cart", fulfill.ErrCartRecurringItem)
