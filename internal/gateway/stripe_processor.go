package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeProcessor implements Processor using Stripe PaymentIntents
type StripeProcessor struct {
	intents *paymentintent.Client
	refunds *refund.Client
}

// StripeProcessorConfig holds configuration for the Stripe processor
type StripeProcessorConfig struct {
	SecretKey string

	// BackendURL overrides the Stripe API base URL, e.g. for stripe-mock
	BackendURL string

	// MaxNetworkRetries is left to the caller's retry policy when zero
	MaxNetworkRetries int64
}

// NewStripeProcessor creates a new Stripe processor. The key is bound to
// the clients instead of the package-level stripe.Key.
func NewStripeProcessor(config *StripeProcessorConfig) (*StripeProcessor, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(config.MaxNetworkRetries),
	}
	if config.BackendURL != "" {
		backendConfig.URL = stripe.String(config.BackendURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	return &StripeProcessor{
		intents: &paymentintent.Client{B: backend, Key: config.SecretKey},
		refunds: &refund.Client{B: backend, Key: config.SecretKey},
	}, nil
}

// OpenIntent creates a Stripe PaymentIntent and returns its client secret
func (p *StripeProcessor) OpenIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	if req == nil {
		return nil, fmt.Errorf("intent request is required")
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("payment_id", req.PaymentID)
	if req.OrderNumber != "" {
		params.AddMetadata("order_number", req.OrderNumber)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.intents.New(params)
	if err != nil {
		return nil, classifyStripeError("create payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// RetrieveIntent fetches a PaymentIntent
func (p *StripeProcessor) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, fmt.Errorf("payment intent ID is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.intents.Get(intentID, params)
	if err != nil {
		return nil, classifyStripeError("get payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// Refund creates a Stripe refund against a PaymentIntent
func (p *StripeProcessor) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if req == nil || req.IntentID == "" {
		return nil, fmt.Errorf("payment intent ID is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if req.AmountMinor > 0 {
		params.Amount = stripe.Int64(req.AmountMinor)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := p.refunds.New(params)
	if err != nil {
		return nil, classifyStripeError("create refund", err)
	}
	return &RefundResult{ID: r.ID, Status: string(r.Status), AmountMinor: r.Amount}, nil
}

// Name returns the processor name
func (p *StripeProcessor) Name() string {
	return "stripe"
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       mapIntentStatus(pi),
		AmountMinor:  pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Metadata:     pi.Metadata,
	}
	if pi.LatestCharge != nil {
		intent.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		intent.FailureCode = string(pi.LastPaymentError.Code)
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	return intent
}

func mapIntentStatus(pi *stripe.PaymentIntent) IntentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return IntentProcessing
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Stripe returns to requires_payment_method after a failed attempt
		if pi.LastPaymentError != nil {
			return IntentFailed
		}
	}
	return IntentRequiresPayment
}

// classifyStripeError separates retryable failures from declines
func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%s: %w: %s", op, ErrTransient, se.Msg)
	case se.HTTPStatusCode == http.StatusNotFound, se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%s: %w", op, ErrIntentNotFound)
	default:
		return fmt.Errorf("%s: %w: %s (%s)", op, ErrDeclined, se.Msg, se.Code)
	}
}

var _ Processor = (*StripeProcessor)(nil)
