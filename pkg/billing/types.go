package billing

import "time"

// Checkout modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Payment statuses of a checkout session.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Event types the pipeline reacts to.
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventSubscriptionCreated           = "customer.subscription.created"
	EventSubscriptionUpdated           = "customer.subscription.updated"
	EventSubscriptionDeleted           = "customer.subscription.deleted"
)

// LineItem is one price and quantity on a checkout session.
type LineItem struct {
	PriceID  string
	Quantity int64
}

// CheckoutParams describes a checkout session to create.
type CheckoutParams struct {
	Mode              string
	LineItems         []LineItem
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CustomerEmail     string
	Metadata          map[string]string

	// SubscriptionMetadata is copied onto the subscription created by a
	// subscription-mode session.
	SubscriptionMetadata map[string]string
}

// Session is a checkout session as seen by the pipeline.
type Session struct {
	ID                string
	URL               string
	Mode              string
	PaymentStatus     string
	ClientReferenceID string
	CustomerID        string
	CustomerEmail     string
	SubscriptionID    string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
}

// Paid reports whether the session needs no further payment.
func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// Subscription is the live state of a subscription.
type Subscription struct {
	ID                string
	Status            string
	CustomerID        string
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

// Active reports whether the subscription currently grants access.
func (s *Subscription) Active() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// Event is a verified webhook event. Exactly one of Session and Subscription
// is set for the event types the pipeline handles.
type Event struct {
	ID           string
	Type         string
	Created      time.Time
	Session      *Session
	Subscription *Subscription
}
