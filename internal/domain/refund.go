package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatus is the state of one refund attempt
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// Refund records money returned for a payment, whether requested through
// the API or discovered from a processor webhook.
type Refund struct {
	ID                string          `json:"id"`
	PaymentID         string          `json:"payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason,omitempty"`
	Status            RefundStatus    `json:"status"`
	ProcessorRefundID string          `json:"processor_refund_id,omitempty"`
	TicketsCancelled  int             `json:"tickets_cancelled"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ProcessedWebhookEvent marks a processor event id as handled
type ProcessedWebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	PaymentID   string    `json:"payment_id,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
