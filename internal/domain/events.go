package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a notification emitted through the outbox
type EventType string

const (
	EventTicketsIssued    EventType = "tickets.issued"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentRefunded  EventType = "payment.refunded"
	EventWaitlistNotified EventType = "waitlist.notified"
)

// Topic returns the Kafka topic for the event type
func (e EventType) Topic() string {
	switch e {
	case EventTicketsIssued:
		return "ticketing.tickets-issued"
	case EventPaymentFailed:
		return "ticketing.payment-failed"
	case EventPaymentRefunded:
		return "ticketing.payment-refunded"
	case EventWaitlistNotified:
		return "ticketing.waitlist-notified"
	}
	return "ticketing.events"
}

// EventMetadata is common to every notification payload
type EventMetadata struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    int       `json:"version"`
}

func newMetadata(t EventType, now time.Time) EventMetadata {
	return EventMetadata{EventID: NewID(), EventType: t, OccurredAt: now, Version: 1}
}

// TicketsIssuedEvent tells the dispatcher to send tickets to the buyer
type TicketsIssuedEvent struct {
	EventMetadata
	PaymentID    string          `json:"payment_id"`
	OrderNumber  string          `json:"order_number"`
	UserID       string          `json:"user_id"`
	EventIDRef   string          `json:"event"`
	BillingEmail string          `json:"billing_email,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	TicketIDs    []string        `json:"ticket_ids"`
	TicketCodes  []string        `json:"ticket_numbers"`
}

// NewTicketsIssuedEvent builds the payload for tickets.issued
func NewTicketsIssuedEvent(p *Payment, tickets []*Ticket, now time.Time) *TicketsIssuedEvent {
	e := &TicketsIssuedEvent{
		EventMetadata: newMetadata(EventTicketsIssued, now),
		PaymentID:     p.ID,
		OrderNumber:   p.OrderNumber,
		UserID:        p.UserID,
		EventIDRef:    p.EventID,
		BillingEmail:  p.BillingEmail,
		TotalAmount:   p.TotalAmount,
		Currency:      p.Currency,
	}
	for _, t := range tickets {
		e.TicketIDs = append(e.TicketIDs, t.ID)
		e.TicketCodes = append(e.TicketCodes, t.TicketNumber)
	}
	return e
}

// PaymentFailedEvent tells the buyer the purchase did not go through
type PaymentFailedEvent struct {
	EventMetadata
	PaymentID      string `json:"payment_id"`
	OrderNumber    string `json:"order_number"`
	UserID         string `json:"user_id"`
	BillingEmail   string `json:"billing_email,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// NewPaymentFailedEvent builds the payload for payment.failed
func NewPaymentFailedEvent(p *Payment, now time.Time) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		EventMetadata:  newMetadata(EventPaymentFailed, now),
		PaymentID:      p.ID,
		OrderNumber:    p.OrderNumber,
		UserID:         p.UserID,
		BillingEmail:   p.BillingEmail,
		FailureCode:    p.FailureCode,
		FailureMessage: p.FailureMessage,
	}
}

// PaymentRefundedEvent reports a refund that has settled
type PaymentRefundedEvent struct {
	EventMetadata
	PaymentID        string          `json:"payment_id"`
	OrderNumber      string          `json:"order_number"`
	UserID           string          `json:"user_id"`
	BillingEmail     string          `json:"billing_email,omitempty"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	RefundedTotal    decimal.Decimal `json:"refunded_total"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	TicketsCancelled int             `json:"tickets_cancelled"`
	Reason           string          `json:"reason,omitempty"`
}

// NewPaymentRefundedEvent builds the payload for payment.refunded
func NewPaymentRefundedEvent(p *Payment, amount decimal.Decimal, cancelled int, now time.Time) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		EventMetadata:    newMetadata(EventPaymentRefunded, now),
		PaymentID:        p.ID,
		OrderNumber:      p.OrderNumber,
		UserID:           p.UserID,
		BillingEmail:     p.BillingEmail,
		RefundAmount:     amount,
		RefundedTotal:    p.RefundedAmount,
		Currency:         p.Currency,
		Status:           p.Status,
		TicketsCancelled: cancelled,
		Reason:           p.RefundReason,
	}
}

// WaitlistNotifiedEvent carries the pass a waitlisted buyer purchases with
type WaitlistNotifiedEvent struct {
	EventMetadata
	EntryID    string    `json:"entry_id"`
	EventIDRef string    `json:"event"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Quantity   int       `json:"quantity"`
	Pass       string    `json:"pass"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewWaitlistNotifiedEvent builds the payload for waitlist.notified
func NewWaitlistNotifiedEvent(e *WaitlistEntry, pass string, now time.Time) *WaitlistNotifiedEvent {
	ev := &WaitlistNotifiedEvent{
		EventMetadata: newMetadata(EventWaitlistNotified, now),
		EntryID:       e.ID,
		EventIDRef:    e.EventID,
		Email:         e.Email,
		Name:          e.Name,
		Quantity:      e.Quantity,
		Pass:          pass,
	}
	if e.ExpiresAt != nil {
		ev.ExpiresAt = *e.ExpiresAt
	}
	return ev
}
