package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockProcessor implements Processor in memory for development and tests
type MockProcessor struct {
	config *MockProcessorConfig

	mu          sync.Mutex
	intents     map[string]*mockIntent
	idempotency map[string]string
	failNext    []error
	refunds     []RefundRequest
}

type mockIntent struct {
	intent        Intent
	refundedMinor int64
}

// MockProcessorConfig holds configuration for the mock processor
type MockProcessorConfig struct {
	// FailureRate is the probability an auto-confirmed intent fails (0.0 to 1.0)
	FailureRate float64

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int

	// AutoConfirm settles an intent the first time it is retrieved, standing
	// in for the client completing payment
	AutoConfirm bool
}

// DefaultMockProcessorConfig returns default configuration
func DefaultMockProcessorConfig() *MockProcessorConfig {
	return &MockProcessorConfig{
		FailureRate: 0,
		DelayMs:     0,
		AutoConfirm: true,
	}
}

// NewMockProcessor creates a new mock processor
func NewMockProcessor(config *MockProcessorConfig) *MockProcessor {
	if config == nil {
		config = DefaultMockProcessorConfig()
	}
	if config.FailureRate < 0 {
		config.FailureRate = 0
	}
	if config.FailureRate > 1 {
		config.FailureRate = 1
	}

	return &MockProcessor{
		config:      config,
		intents:     make(map[string]*mockIntent),
		idempotency: make(map[string]string),
	}
}

func (p *MockProcessor) delay(ctx context.Context) error {
	if p.config.DelayMs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(p.config.DelayMs) * time.Millisecond):
		return nil
	}
}

// popFailure returns the next injected error, if any. Caller holds mu.
func (p *MockProcessor) popFailure() error {
	if len(p.failNext) == 0 {
		return nil
	}
	err := p.failNext[0]
	p.failNext = p.failNext[1:]
	return err
}

// OpenIntent creates a mock PaymentIntent
func (p *MockProcessor) OpenIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	if req == nil {
		return nil, fmt.Errorf("intent request is required")
	}
	if err := p.delay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.popFailure(); err != nil {
		return nil, err
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}
	if id, ok := p.idempotency[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		intent := p.intents[id].intent
		return &intent, nil
	}

	id := "pi_mock_" + randomAlphanumeric(24)
	metadata := map[string]string{"payment_id": req.PaymentID, "order_number": req.OrderNumber}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	p.intents[id] = &mockIntent{intent: Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, randomAlphanumeric(24)),
		Status:       IntentRequiresPayment,
		AmountMinor:  req.AmountMinor,
		Currency:     strings.ToUpper(req.Currency),
		Metadata:     metadata,
	}}
	if req.IdempotencyKey != "" {
		p.idempotency[req.IdempotencyKey] = id
	}

	intent := p.intents[id].intent
	return &intent, nil
}

// RetrieveIntent returns a mock PaymentIntent
func (p *MockProcessor) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, fmt.Errorf("payment intent ID is required")
	}
	if err := p.delay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.popFailure(); err != nil {
		return nil, err
	}
	mi, ok := p.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("get payment intent %s: %w", intentID, ErrIntentNotFound)
	}

	if p.config.AutoConfirm && mi.intent.Status == IntentRequiresPayment {
		if rand.Float64() < p.config.FailureRate {
			mi.intent.Status = IntentFailed
			mi.intent.FailureCode = "card_declined"
			mi.intent.FailureMessage = "Your card was declined."
		} else {
			mi.intent.Status = IntentSucceeded
			mi.intent.ChargeID = "ch_mock_" + randomAlphanumeric(24)
		}
	}

	intent := mi.intent
	return &intent, nil
}

// Refund records a mock refund, rejecting amounts beyond what was charged
func (p *MockProcessor) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if req == nil || req.IntentID == "" {
		return nil, fmt.Errorf("payment intent ID is required")
	}
	if err := p.delay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.popFailure(); err != nil {
		return nil, err
	}
	mi, ok := p.intents[req.IntentID]
	if !ok {
		return nil, fmt.Errorf("create refund: %w", ErrIntentNotFound)
	}
	if mi.intent.Status != IntentSucceeded {
		return nil, fmt.Errorf("%w: intent %s has not succeeded", ErrDeclined, req.IntentID)
	}

	amount := req.AmountMinor
	remaining := mi.intent.AmountMinor - mi.refundedMinor
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return nil, fmt.Errorf("%w: refund of %d exceeds remaining %d", ErrDeclined, amount, remaining)
	}
	mi.refundedMinor += amount
	p.refunds = append(p.refunds, *req)

	return &RefundResult{ID: "re_mock_" + randomAlphanumeric(24), Status: "succeeded", AmountMinor: amount}, nil
}

// Name returns the processor name
func (p *MockProcessor) Name() string {
	return "mock"
}

// SetIntentStatus moves an intent to status, as a client or the
// processor would
func (p *MockProcessor) SetIntentStatus(intentID string, status IntentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	mi, ok := p.intents[intentID]
	if !ok {
		return ErrIntentNotFound
	}
	mi.intent.Status = status
	if status == IntentSucceeded && mi.intent.ChargeID == "" {
		mi.intent.ChargeID = "ch_mock_" + randomAlphanumeric(24)
	}
	return nil
}

// FailNext makes the next processor calls return errs in order
func (p *MockProcessor) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = append(p.failNext, errs...)
}

// Refunds returns the refunds accepted so far
func (p *MockProcessor) Refunds() []RefundRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RefundRequest, len(p.refunds))
	copy(out, p.refunds)
	return out
}

var _ Processor = (*MockProcessor)(nil)
