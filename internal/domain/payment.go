package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a Payment
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// paymentTransitions lists every forward move. Anything absent is illegal,
// so COMPLETED can never go back to PROCESSING and FAILED is terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing:        {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:         {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

// IsValid checks if the status is known
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal move
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsSettled reports whether money has moved for good (success or refund).
// Settled payments absorb late success webhooks.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusRefunded || s == PaymentStatusPartiallyRefunded
}

// IsOpen reports whether the payment still awaits the processor
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// IsRefundable reports whether a refund may be requested
func (s PaymentStatus) IsRefundable() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusPartiallyRefunded
}

// Payment is one purchase attempt and its settlement record. The stored
// OrganizerPayout is authoritative; nothing recomputes it from tickets.
type Payment struct {
	ID              string        `json:"id"`
	OrderNumber     string        `json:"order_number"`
	UserID          string        `json:"user_id"`
	EventID         string        `json:"event_id"`
	TicketTypeID    string        `json:"ticket_type_id"`
	Quantity        int           `json:"quantity"`
	ReservationID   string        `json:"reservation_id,omitempty"`
	Status          PaymentStatus `json:"status"`
	Currency        string        `json:"currency"`
	PromoCodeID     *string       `json:"promo_code_id,omitempty"`
	PromoCode       string        `json:"promo_code,omitempty"`
	WaitlistEntryID *string       `json:"waitlist_entry_id,omitempty"`
	BillingEmail    string        `json:"billing_email,omitempty"`
	BillingName     string        `json:"billing_name,omitempty"`

	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount"`
	TaxAmount             decimal.Decimal `json:"tax_amount"`
	ServiceFee            decimal.Decimal `json:"service_fee"`
	ProcessorFee          decimal.Decimal `json:"processor_fee"`
	PlatformCommission    decimal.Decimal `json:"platform_commission"`
	PlatformCommissionPct decimal.Decimal `json:"platform_commission_pct"`
	OrganizerPayout       decimal.Decimal `json:"organizer_payout"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	PendingRefundAmount   decimal.Decimal `json:"-"`

	Processor      string `json:"processor"`
	IntentID       string `json:"intent_id,omitempty"`
	ChargeID       string `json:"charge_id,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	RefundReason   string `json:"refund_reason,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TransitionTo moves the payment to next or returns ErrInvalidTransition
func (p *Payment) TransitionTo(next PaymentStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: payment %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	switch next {
	case PaymentStatusCompleted:
		p.CompletedAt = &now
	case PaymentStatusFailed:
		p.FailedAt = &now
	case PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		p.RefundedAt = &now
	}
	return nil
}

// RefundableBalance is what may still be refunded, excluding refunds in flight
func (p *Payment) RefundableBalance() decimal.Decimal {
	return p.TotalAmount.Sub(p.RefundedAmount).Sub(p.PendingRefundAmount)
}

// AmountMinor converts the total to minor currency units
func (p *Payment) AmountMinor() int64 {
	return ToMinor(p.TotalAmount)
}

// UnitPrice is the per-ticket share of the total rounded to cents. It is
// the price printed on tickets; refunds count tickets with TicketsCoveredBy.
func (p *Payment) UnitPrice() decimal.Decimal {
	if p.Quantity <= 0 {
		return decimal.Zero
	}
	return p.TotalAmount.Div(decimal.NewFromInt(int64(p.Quantity))).RoundBank(2)
}

// TicketsCoveredBy is how many whole tickets amount pays for, computed as
// floor(amount * quantity / total) without rounding the per-ticket share.
func (p *Payment) TicketsCoveredBy(amount decimal.Decimal) int {
	if p.Quantity <= 0 || !p.TotalAmount.IsPositive() || !amount.IsPositive() {
		return 0
	}
	if !amount.LessThan(p.TotalAmount) {
		return p.Quantity
	}
	q, _ := amount.Mul(decimal.NewFromInt(int64(p.Quantity))).QuoRem(p.TotalAmount, 0)
	return min(int(q.IntPart()), p.Quantity)
}

// ToMinor converts a two-decimal amount to cents
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinor converts cents to a two-decimal amount
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
