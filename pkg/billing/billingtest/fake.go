// Package billingtest provides an in-memory billing.Provider for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Provider is a fake billing.Provider. Sessions and subscriptions are served
// from maps; created sessions are recorded.
type Provider struct {
	mu            sync.Mutex
	Created       []billing.CheckoutParams
	Sessions      map[string]*billing.Session
	Subscriptions map[string]*billing.Subscription
	PortalURLs    map[string]string

	// Err, when set, is returned by every call.
	Err error

	calls int
}

var _ billing.Provider = (*Provider)(nil)

// New returns an empty fake provider.
func New() *Provider {
	return &Provider{
		Sessions:      map[string]*billing.Session{},
		Subscriptions: map[string]*billing.Subscription{},
		PortalURLs:    map[string]string{},
	}
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (*billing.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	p.Created = append(p.Created, params)
	id := fmt.Sprintf("cs_test_%d", len(p.Created))
	s := &billing.Session{
		ID:                id,
		URL:               "https://checkout.example.com/" + id,
		Mode:              params.Mode,
		PaymentStatus:     billing.PaymentStatusUnpaid,
		ClientReferenceID: params.ClientReferenceID,
		CustomerEmail:     params.CustomerEmail,
		Metadata:          params.Metadata,
	}
	p.Sessions[id] = s
	return s, nil
}

func (p *Provider) RetrieveCheckoutSession(_ context.Context, id string) (*billing.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	s, ok := p.Sessions[id]
	if !ok {
		return nil, fulfill.Upstream("retrieve checkout session", fmt.Errorf("no such session %q", id))
	}
	return s, nil
}

func (p *Provider) RetrieveSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	s, ok := p.Subscriptions[id]
	if !ok {
		return nil, fulfill.Upstream("retrieve subscription", fmt.Errorf("no such subscription %q", id))
	}
	return s, nil
}

func (p *Provider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return "", p.Err
	}
	if u, ok := p.PortalURLs[customerID]; ok {
		return u, nil
	}
	return "https://billing.example.com/p/" + customerID + "?return=" + returnURL, nil
}

// Calls returns how many provider calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Verifier is a fake billing.EventVerifier that accepts a fixed signature.
type Verifier struct {
	Signature string
	Event     *billing.Event
}

var _ billing.EventVerifier = (*Verifier)(nil)

func (v *Verifier) ConstructEvent(_ []byte, signature string) (*billing.Event, error) {
	if signature != v.Signature {
		return nil, fulfill.Wrap(fulfill.ErrInvalidSignature, "signature mismatch")
	}
	return v.Event, nil
}
