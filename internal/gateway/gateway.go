package gateway

import (
	"context"
	"errors"
)

// Processor defines the interface for an external payment processor
type Processor interface {
	// OpenIntent creates a payment intent the client completes with ClientSecret
	OpenIntent(ctx context.Context, req *IntentRequest) (*Intent, error)

	// RetrieveIntent fetches the current state of an intent
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)

	// Refund returns money for an intent. AmountMinor 0 refunds the remainder.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// Name returns the processor name stored on payments
	Name() string
}

// IntentStatus is the processor-neutral state of a payment intent
type IntentStatus string

const (
	IntentRequiresPayment IntentStatus = "requires_payment"
	IntentProcessing      IntentStatus = "processing"
	IntentSucceeded       IntentStatus = "succeeded"
	IntentFailed          IntentStatus = "failed"
	IntentCanceled        IntentStatus = "canceled"
)

// IntentRequest represents a request to open a payment intent
type IntentRequest struct {
	PaymentID   string
	OrderNumber string
	AmountMinor int64
	Currency    string
	Description string
	Email       string
	Metadata    map[string]string

	// IdempotencyKey makes retried opens return the same intent
	IdempotencyKey string
}

// Intent represents a payment intent at the processor
type Intent struct {
	ID             string
	ClientSecret   string
	Status         IntentStatus
	AmountMinor    int64
	Currency       string
	ChargeID       string
	FailureCode    string
	FailureMessage string
	Metadata       map[string]string
}

// RefundRequest represents a refund request
type RefundRequest struct {
	IntentID       string
	AmountMinor    int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult represents a refund at the processor
type RefundResult struct {
	ID          string
	Status      string
	AmountMinor int64
}

var (
	// ErrDeclined is returned when the processor rejects a request for a
	// reason retrying cannot fix
	ErrDeclined = errors.New("request declined by processor")

	// ErrTransient is returned for network failures, rate limits and 5xx
	ErrTransient = errors.New("transient processor error")

	ErrIntentNotFound = errors.New("payment intent not found at processor")
)

// IsTransient reports whether a processor call may succeed when retried
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
