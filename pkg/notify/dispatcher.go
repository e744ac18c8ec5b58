package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Item is one fulfilled product in a confirmation.
type Item struct {
	ProductID string
	Tier      string
}

// Title is the display name of the item.
func (i Item) Title() string {
	if i.Tier == "" {
		return i.ProductID
	}
	return i.ProductID + " (" + strings.ToUpper(i.Tier) + ")"
}

// Confirmation describes a fulfilled checkout session.
type Confirmation struct {
	SessionID string
	// Trigger names the event type that produced the confirmation.
	Trigger     string
	Recipient   string
	Items       []Item
	Downloads   []downloads.Link
	AmountTotal int64
	Currency    string
}

// Amount formats the total in major units, or "" when unknown.
func (c Confirmation) Amount() string {
	if c.AmountTotal <= 0 || c.Currency == "" {
		return ""
	}
	return fmt.Sprintf("%d.%02d %s", c.AmountTotal/100, c.AmountTotal%100, strings.ToUpper(c.Currency))
}

func (c Confirmation) productIDs() string {
	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	return strings.Join(ids, ",")
}

// Dispatcher sends purchase confirmations through a Guard.
type Dispatcher struct {
	mailer  Mailer
	guard   *Guard
	logger  fulfill.Logger
	metrics fulfill.Metrics

	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l fulfill.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = fulfill.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m fulfill.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = fulfill.MetricsOrNoop(m) }
}

// NewDispatcher creates a dispatcher. A nil mailer disables sending; a nil
// guard dedups within the process only.
func NewDispatcher(mailer Mailer, guard *Guard, opts ...DispatcherOption) (*Dispatcher, error) {
	if guard == nil {
		guard = NewGuard(nil)
	}
	d := &Dispatcher{
		mailer:  mailer,
		guard:   guard,
		logger:  &fulfill.NoopLogger{},
		metrics: &fulfill.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	if d.subject, err = texttemplate.ParseFS(templateFS, "templates/subject.txt.tmpl"); err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	if d.text, err = texttemplate.ParseFS(templateFS, "templates/body.txt.tmpl"); err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	if d.html, err = htmltemplate.ParseFS(templateFS, "templates/body.html.tmpl"); err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	return d, nil
}

// Enabled reports whether a mailer is configured.
func (d *Dispatcher) Enabled() bool {
	return d.mailer != nil
}

// Render builds the message for c.
func (d *Dispatcher) Render(c Confirmation) (Message, error) {
	var subject, text, html bytes.Buffer
	if err := d.subject.Execute(&subject, c); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := d.text.Execute(&text, c); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := d.html.Execute(&html, c); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{
		To:      c.Recipient,
		Subject: strings.TrimSpace(subject.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// PurchaseConfirmed sends the confirmation for c once per session id. A
// disabled dispatcher or a missing recipient is a logged skip.
func (d *Dispatcher) PurchaseConfirmed(ctx context.Context, c Confirmation) error {
	if !d.Enabled() {
		d.metrics.RecordNotification("skipped")
		d.logger.Warn("Mail sender not configured, confirmation skipped", fulfill.F("session_id", c.SessionID))
		return nil
	}
	if c.Recipient == "" {
		d.metrics.RecordNotification("skipped")
		d.logger.Warn("No recipient for confirmation", fulfill.F("session_id", c.SessionID))
		return nil
	}

	msg, err := d.Render(c)
	if err != nil {
		return err
	}

	entry := Entry{Trigger: c.Trigger, Recipient: c.Recipient, ProductID: c.productIDs()}
	outcome, err := d.guard.Do(ctx, c.SessionID, entry, func(ctx context.Context) error {
		return d.mailer.Send(ctx, msg)
	})
	if err != nil {
		d.logger.Error("Confirmation send failed",
			fulfill.F("session_id", c.SessionID),
			fulfill.F("recipient", c.Recipient),
			fulfill.F("error", err.Error()))
		return err
	}
	d.logger.Info("Confirmation processed",
		fulfill.F("session_id", c.SessionID),
		fulfill.F("outcome", string(outcome)))
	return nil
}
