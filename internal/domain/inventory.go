package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TicketType is a priced, finite allocation of an event's inventory
type TicketType struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Quantity     int             `json:"quantity"`
	QuantitySold int             `json:"quantity_sold"`
	MinPerOrder  int             `json:"min_per_order"`
	MaxPerOrder  int             `json:"max_per_order"`
	SalesStart   *time.Time      `json:"sales_start,omitempty"`
	SalesEnd     *time.Time      `json:"sales_end,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Available returns the number of unsold tickets
func (t *TicketType) Available() int {
	return max(0, t.Quantity-t.QuantitySold)
}

// SalesOpen reports whether now lies inside the sales window
func (t *TicketType) SalesOpen(now time.Time) bool {
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && now.After(*t.SalesEnd) {
		return false
	}
	return true
}

// ValidateQuantity checks qty against the per-order bounds
func (t *TicketType) ValidateQuantity(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	minQty := max(1, t.MinPerOrder)
	if qty < minQty || (t.MaxPerOrder > 0 && qty > t.MaxPerOrder) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOrderLimitExceeded, qty, minQty, t.MaxPerOrder)
	}
	return nil
}

// SeatStatus is the state of an individually numbered seat
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusReserved  SeatStatus = "RESERVED"
	SeatStatusSold      SeatStatus = "SOLD"
	SeatStatusBlocked   SeatStatus = "BLOCKED"
)

var seatTransitions = map[SeatStatus][]SeatStatus{
	SeatStatusAvailable: {SeatStatusReserved, SeatStatusBlocked},
	SeatStatusReserved:  {SeatStatusSold, SeatStatusAvailable},
	SeatStatusSold:      {SeatStatusAvailable},
	SeatStatusBlocked:   {SeatStatusAvailable},
}

// CanTransitionTo reports whether s -> next is a legal move
func (s SeatStatus) CanTransitionTo(next SeatStatus) bool {
	for _, allowed := range seatTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Seat is a numbered place bound to a ticket type
type Seat struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	TicketTypeID  string     `json:"ticket_type_id"`
	Section       string     `json:"section"`
	Row           string     `json:"row"`
	Number        string     `json:"number"`
	Status        SeatStatus `json:"status"`
	ReservationID *string    `json:"reservation_id,omitempty"`
	HeldUntil     *time.Time `json:"held_until,omitempty"`
}

// ReservationStatus is the state of an inventory hold
type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "HELD"
	ReservationStatusCommitted ReservationStatus = "COMMITTED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// EXPIRED -> COMMITTED is a late settlement that re-acquired its inventory
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusHeld:    {ReservationStatusCommitted, ReservationStatusReleased, ReservationStatusExpired},
	ReservationStatusExpired: {ReservationStatusCommitted},
}

// CanTransitionTo reports whether s -> next is a legal move
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsInventory reports whether quantity_sold currently counts this reservation
func (s ReservationStatus) HoldsInventory() bool {
	return s == ReservationStatusHeld || s == ReservationStatusCommitted
}

// Reservation is the token returned by a reserve. Its ID is passed to
// commit and release.
type Reservation struct {
	ID           string            `json:"id"`
	PaymentID    string            `json:"payment_id"`
	EventID      string            `json:"event_id"`
	TicketTypeID string            `json:"ticket_type_id"`
	Quantity     int               `json:"quantity"`
	SeatIDs      []string          `json:"seat_ids,omitempty"`
	Status       ReservationStatus `json:"status"`
	ExpiresAt    time.Time         `json:"expires_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsExpired reports whether a HELD reservation is past its window
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationStatusHeld && !now.Before(r.ExpiresAt)
}

// Availability is the public view of a ticket type's stock
type Availability struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	Sold         int    `json:"sold"`
	Available    int    `json:"available"`
}
