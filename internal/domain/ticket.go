package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketStatus is the state of an issued ticket
type TicketStatus string

const (
	TicketStatusActive      TicketStatus = "ACTIVE"
	TicketStatusUsed        TicketStatus = "USED"
	TicketStatusCancelled   TicketStatus = "CANCELLED"
	TicketStatusExpired     TicketStatus = "EXPIRED"
	TicketStatusTransferred TicketStatus = "TRANSFERRED"
)

// CanTransitionTo reports whether s -> next is a legal move. Only ACTIVE
// tickets change state.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	if s != TicketStatusActive {
		return false
	}
	switch next {
	case TicketStatusUsed, TicketStatusCancelled, TicketStatusExpired, TicketStatusTransferred:
		return true
	}
	return false
}

// Ticket is one admission issued for a settled payment
type Ticket struct {
	ID           string          `json:"id"`
	TicketNumber string          `json:"ticket_number"`
	ScanCode     string          `json:"scan_code"`
	Barcode      string          `json:"barcode"`
	EventID      string          `json:"event_id"`
	TicketTypeID string          `json:"ticket_type_id"`
	SeatID       *string         `json:"seat_id,omitempty"`
	UserID       string          `json:"user_id"`
	PaymentID    *string         `json:"payment_id,omitempty"`
	PricePaid    decimal.Decimal `json:"price_paid"`
	Currency     string          `json:"currency"`
	Status       TicketStatus    `json:"status"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewTicketsForPayment builds one ACTIVE ticket per unit of p. Seats are
// bound in order when the reservation named them.
func NewTicketsForPayment(p *Payment, seatIDs []string, now time.Time) ([]*Ticket, error) {
	price := p.UnitPrice()
	paymentID := p.ID
	tickets := make([]*Ticket, 0, p.Quantity)
	for i := 0; i < p.Quantity; i++ {
		number, err := NewTicketNumber(now)
		if err != nil {
			return nil, err
		}
		scan, err := NewScanCode()
		if err != nil {
			return nil, err
		}
		barcode, err := NewBarcode()
		if err != nil {
			return nil, err
		}
		t := &Ticket{
			ID:           NewID(),
			TicketNumber: number,
			ScanCode:     scan,
			Barcode:      barcode,
			EventID:      p.EventID,
			TicketTypeID: p.TicketTypeID,
			UserID:       p.UserID,
			PaymentID:    &paymentID,
			PricePaid:    price,
			Currency:     p.Currency,
			Status:       TicketStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if i < len(seatIDs) {
			seat := seatIDs[i]
			t.SeatID = &seat
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}
