package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// EventKind is the processor-neutral meaning of a webhook event
type EventKind string

const (
	EventIntentSucceeded EventKind = "intent_succeeded"
	EventIntentFailed    EventKind = "intent_failed"
	EventChargeRefunded  EventKind = "charge_refunded"
	EventUnknown         EventKind = "unknown"
)

// Event is a verified, normalised webhook notification
type Event struct {
	ID        string
	Type      string
	Kind      EventKind
	IntentID  string
	PaymentID string
	ChargeID  string
	RefundID  string
	Currency  string

	AmountMinor         int64
	AmountRefundedMinor int64

	FailureCode    string
	FailureMessage string
}

// WebhookVerifier authenticates and parses processor webhooks
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}

// StripeWebhookVerifier checks the Stripe-Signature header
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier creates a verifier. A zero tolerance uses
// Stripe's default of five minutes.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) *StripeWebhookVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}
}

// Verify returns domain.ErrBadSignature for any authentication failure and
// domain.ErrMalformedWebhook when a signed payload cannot be parsed
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (*Event, error) {
	if signature == "" || v.secret == "" {
		return nil, domain.ErrBadSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, domain.ErrBadSignature
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}

	return normalizeStripeEvent(evt)
}

func normalizeStripeEvent(evt stripe.Event) (*Event, error) {
	if evt.ID == "" || evt.Data == nil {
		return nil, fmt.Errorf("%w: missing id or data", domain.ErrMalformedWebhook)
	}
	out := &Event{ID: evt.ID, Type: string(evt.Type), Kind: EventUnknown}

	switch evt.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
		}
		intent := intentFromStripe(&pi)
		out.IntentID = intent.ID
		out.PaymentID = pi.Metadata["payment_id"]
		out.ChargeID = intent.ChargeID
		out.AmountMinor = intent.AmountMinor
		out.Currency = intent.Currency
		out.FailureCode = intent.FailureCode
		out.FailureMessage = intent.FailureMessage

		switch evt.Type {
		case "payment_intent.succeeded":
			out.Kind = EventIntentSucceeded
		case "payment_intent.canceled":
			out.Kind = EventIntentFailed
			if out.FailureCode == "" {
				out.FailureCode = "canceled"
				out.FailureMessage = "payment was canceled"
			}
		default:
			out.Kind = EventIntentFailed
			if out.FailureCode == "" {
				out.FailureCode = "payment_failed"
			}
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
		}
		out.Kind = EventChargeRefunded
		out.ChargeID = ch.ID
		out.PaymentID = ch.Metadata["payment_id"]
		out.AmountMinor = ch.Amount
		out.AmountRefundedMinor = ch.AmountRefunded
		out.Currency = strings.ToUpper(string(ch.Currency))
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			out.RefundID = ch.Refunds.Data[0].ID
		}
	}

	if out.Kind != EventUnknown && out.IntentID == "" && out.PaymentID == "" {
		return nil, fmt.Errorf("%w: event %s carries no correlation", domain.ErrMalformedWebhook, evt.ID)
	}
	return out, nil
}

var _ WebhookVerifier = (*StripeWebhookVerifier)(nil)
