package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

const testWebhookSecret = "whsec_test_secret"

func signedHeader(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

const checkoutCompletedPayload = `{
  "id": "evt_checkout_1",
  "object": "event",
  "type": "checkout.session.completed",
  "created": 1700000000,
  "api_version": "2020-08-27",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "mode": "payment",
      "payment_status": "paid",
      "client_reference_id": "u1",
      "customer": "cus_123",
      "customer_details": {"email": "buyer@example.com"},
      "amount_total": 2900,
      "currency": "usd",
      "metadata": {"productId": "app-lifetime", "entitlementKey": "app"}
    }
  }
}`

const subscriptionDeletedPayload = `{
  "id": "evt_sub_1",
  "object": "event",
  "type": "customer.subscription.deleted",
  "created": 1700000000,
  "data": {
    "object": {
      "id": "sub_123",
      "object": "subscription",
      "status": "canceled",
      "customer": "cus_123",
      "cancel_at_period_end": false,
      "metadata": {"uid": "u1"},
      "items": {
        "object": "list",
        "data": [
          {"id": "si_1", "object": "subscription_item", "current_period_end": 1700086400,
           "price": {"id": "price_monthly", "object": "price"}}
        ]
      }
    }
  }
}`

func TestVerifier_CheckoutCompleted(t *testing.T) {
	v := NewVerifier(testWebhookSecret)
	payload := []byte(checkoutCompletedPayload)

	event, err := v.ConstructEvent(payload, signedHeader(t, payload, testWebhookSecret))
	require.NoError(t, err)

	assert.Equal(t, "evt_checkout_1", event.ID)
	assert.Equal(t, billing.EventCheckoutCompleted, event.Type)
	require.NotNil(t, event.Session)
	assert.Nil(t, event.Subscription)

	s := event.Session
	assert.Equal(t, "cs_test_1", s.ID)
	assert.Equal(t, billing.ModePayment, s.Mode)
	assert.True(t, s.Paid())
	assert.Equal(t, "u1", s.ClientReferenceID)
	assert.Equal(t, "cus_123", s.CustomerID)
	assert.Equal(t, "buyer@example.com", s.CustomerEmail)
	assert.Equal(t, int64(2900), s.AmountTotal)
	assert.Equal(t, "usd", s.Currency)
	assert.Equal(t, "app-lifetime", s.Metadata["productId"])
}

func TestVerifier_SubscriptionDeleted(t *testing.T) {
	v := NewVerifier(testWebhookSecret)
	payload := []byte(subscriptionDeletedPayload)

	event, err := v.ConstructEvent(payload, signedHeader(t, payload, testWebhookSecret))
	require.NoError(t, err)
	require.NotNil(t, event.Subscription)

	sub := event.Subscription
	assert.Equal(t, "sub_123", sub.ID)
	assert.Equal(t, "canceled", sub.Status)
	assert.False(t, sub.Active())
	assert.Equal(t, "cus_123", sub.CustomerID)
	assert.Equal(t, "price_monthly", sub.PriceID)
	assert.Equal(t, "u1", sub.Metadata["uid"])
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(1700086400, 0).UTC(), *sub.CurrentPeriodEnd)
}

func TestVerifier_RejectsBadSignature(t *testing.T) {
	v := NewVerifier(testWebhookSecret)
	payload := []byte(checkoutCompletedPayload)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong secret", signedHeader(t, payload, "whsec_other")},
		{"garbage", "t=1,v1=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := v.ConstructEvent(payload, tt.header)
			require.Error(t, err)
			assert.Nil(t, event)
			assert.True(t, errors.Is(err, fulfill.ErrInvalidSignature))
			assert.Equal(t, fulfill.KindAuthentication, fulfill.KindOf(err))
		})
	}
}

func TestVerifier_TamperedPayload(t *testing.T) {
	v := NewVerifier(testWebhookSecret)
	header := signedHeader(t, []byte(checkoutCompletedPayload), testWebhookSecret)

	tampered := []byte(checkoutCompletedPayload + " ")
	_, err := v.ConstructEvent(tampered, header)
	assert.ErrorIs(t, err, fulfill.ErrInvalidSignature)
}

func TestVerifier_NotConfigured(t *testing.T) {
	v := NewVerifier("  ")
	assert.False(t, v.Configured())

	_, err := v.ConstructEvent([]byte(checkoutCompletedPayload), "t=1,v1=x")
	assert.ErrorIs(t, err, billing.ErrWebhookNotConfigured)
}

func TestVerifier_IgnoredEventHasNoObject(t *testing.T) {
	v := NewVerifier(testWebhookSecret)
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.paid","created":1700000000,
		"data":{"object":{"id":"in_1","object":"invoice"}}}`)

	event, err := v.ConstructEvent(payload, signedHeader(t, payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, "invoice.paid", event.Type)
	assert.Nil(t, event.Session)
	assert.Nil(t, event.Subscription)
}
