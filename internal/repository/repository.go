package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// Store hands out repositories and runs units of work atomically
type Store interface {
	// Repos returns repositories bound to no transaction
	Repos() Repositories

	// WithTx runs fn in one transaction. fn must only use the repositories
	// it is given; returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Repositories groups every repository of one unit of work
type Repositories struct {
	Inventory InventoryRepository
	Payments  PaymentRepository
	Tickets   TicketRepository
	Promos    PromoRepository
	Waitlist  WaitlistRepository
	Webhooks  WebhookEventRepository
	Refunds   RefundRepository
	Outbox    OutboxRepository
}

// InventoryRepository owns ticket types, seats and reservation tokens.
// Every mutation of sold counts or seat status is a single conditional
// statement so concurrent buyers can never oversell.
type InventoryRepository interface {
	// CreateTicketType inserts a ticket type
	CreateTicketType(ctx context.Context, tt *domain.TicketType) error

	// GetTicketType retrieves a ticket type by its ID
	GetTicketType(ctx context.Context, id string) (*domain.TicketType, error)

	// IncrementSold adds n to quantity_sold only if capacity remains.
	// Returns ErrOutOfStock when it does not.
	IncrementSold(ctx context.Context, ticketTypeID string, n int) error

	// DecrementSold subtracts n from quantity_sold, never below zero
	DecrementSold(ctx context.Context, ticketTypeID string, n int) error

	// CreateSeats inserts seats
	CreateSeats(ctx context.Context, seats []*domain.Seat) error

	// GetSeats retrieves seats by ID
	GetSeats(ctx context.Context, ids []string) ([]*domain.Seat, error)

	// ReserveSeats moves every seat AVAILABLE -> RESERVED or none of them.
	// Returns ErrSeatUnavailable when any seat is taken.
	ReserveSeats(ctx context.Context, ticketTypeID, reservationID string, ids []string, heldUntil time.Time) error

	// MarkSeatsSold moves the reservation's seats RESERVED -> SOLD
	MarkSeatsSold(ctx context.Context, reservationID string, ids []string) error

	// ReleaseSeats moves the reservation's seats RESERVED -> AVAILABLE
	ReleaseSeats(ctx context.Context, reservationID string, ids []string) error

	// ReleaseSoldSeats moves seats SOLD -> AVAILABLE after a refund
	ReleaseSoldSeats(ctx context.Context, ids []string) (int64, error)

	// CreateReservation inserts a reservation token
	CreateReservation(ctx context.Context, r *domain.Reservation) error

	// GetReservation retrieves a reservation by its ID
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// TransitionReservation moves a reservation from -> to. It reports false
	// when the reservation is no longer in from.
	TransitionReservation(ctx context.Context, id string, from, to domain.ReservationStatus, now time.Time) (bool, error)

	// ListExpiredReservations lists HELD reservations past their expiry
	ListExpiredReservations(ctx context.Context, ticketTypeID string, now time.Time, limit int) ([]*domain.Reservation, error)
}

// PaymentRepository defines the interface for payment data access
type PaymentRepository interface {
	// Create creates a new payment record
	Create(ctx context.Context, p *domain.Payment) error

	// GetByID retrieves a payment by its ID
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetForUpdate retrieves a payment and locks its row until the
	// surrounding transaction ends
	GetForUpdate(ctx context.Context, id string) (*domain.Payment, error)

	// GetByIntentID retrieves a payment by processor intent id
	GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error)

	// ListByUser retrieves a user's payments, newest first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Payment, error)

	// Update writes p only if its stored status is still expected.
	// Returns ErrPaymentStatusConflict otherwise.
	Update(ctx context.Context, p *domain.Payment, expected domain.PaymentStatus) error

	// ReserveRefund adds amount to pending_refund_amount when the payment is
	// refundable and refunded + pending + amount stays within the total
	ReserveRefund(ctx context.Context, id string, amount decimal.Decimal) error

	// ReleasePendingRefund subtracts amount from pending_refund_amount
	ReleasePendingRefund(ctx context.Context, id string, amount decimal.Decimal) error
}

// TicketRepository defines the interface for issued tickets
type TicketRepository interface {
	// CreateBatch inserts tickets
	CreateBatch(ctx context.Context, tickets []*domain.Ticket) error

	// GetByID retrieves a ticket by its ID
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)

	// ListByPayment lists a payment's tickets in issue order
	ListByPayment(ctx context.Context, paymentID string) ([]*domain.Ticket, error)

	// Cancel moves one ACTIVE ticket to CANCELLED. It reports false when the
	// ticket is no longer active.
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)

	// CancelByPayment cancels up to limit ACTIVE tickets of a payment in
	// issue order and returns the seat ids they held
	CancelByPayment(ctx context.Context, paymentID string, limit int, now time.Time) (int, []string, error)
}

// PromoRepository defines the interface for promo codes
type PromoRepository interface {
	// Create inserts a promo code
	Create(ctx context.Context, p *domain.PromoCode) error

	// GetByCode retrieves a promo code case-insensitively
	GetByCode(ctx context.Context, code string) (*domain.PromoCode, error)

	// IncrementUsage bumps used_count if the cap allows.
	// Returns ErrPromoCodeExhausted when it does not.
	IncrementUsage(ctx context.Context, id string) error

	// DecrementUsage gives one use back, floored at zero
	DecrementUsage(ctx context.Context, id string) error
}

// WaitlistRepository defines the interface for waitlist entries
type WaitlistRepository interface {
	// Create appends e at the end of its event's queue and sets e.Position.
	// Returns ErrAlreadyOnWaitlist for a duplicate email.
	Create(ctx context.Context, e *domain.WaitlistEntry) error

	// GetByID retrieves an entry by its ID
	GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error)

	// GetByEventAndEmail retrieves an entry by event and email
	GetByEventAndEmail(ctx context.Context, eventID, email string) (*domain.WaitlistEntry, error)

	// ListByEvent lists entries by position. An empty status lists all.
	ListByEvent(ctx context.Context, eventID string, status domain.WaitlistStatus, limit, offset int) ([]*domain.WaitlistEntry, error)

	// Notify moves a WAITING entry to NOTIFIED. It returns nil when the
	// entry is no longer waiting.
	Notify(ctx context.Context, id string, now, expiresAt time.Time) (*domain.WaitlistEntry, error)

	// MarkConverted moves a NOTIFIED, unexpired entry to CONVERTED.
	// Returns ErrInvalidWaitlistPass otherwise.
	MarkConverted(ctx context.Context, id string, now time.Time) error

	// Cancel moves a WAITING or NOTIFIED entry to CANCELLED
	Cancel(ctx context.Context, id string, now time.Time) error

	// ExpireNotified moves NOTIFIED entries past expiry to EXPIRED
	ExpireNotified(ctx context.Context, now time.Time, limit int) (int64, error)
}

// WebhookEventRepository is the processed-event idempotency table
type WebhookEventRepository interface {
	// Record inserts the event id. It reports false when the id was
	// already recorded.
	Record(ctx context.Context, e *domain.ProcessedWebhookEvent) (bool, error)
}

// RefundRepository defines the interface for refund records
type RefundRepository interface {
	// Create inserts a refund
	Create(ctx context.Context, r *domain.Refund) error

	// Update writes status, processor id and cancelled ticket count
	Update(ctx context.Context, r *domain.Refund) error

	// ListByPayment lists a payment's refunds, oldest first
	ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error)
}

// OutboxRepository defines the interface for outbox data access
type OutboxRepository interface {
	// Create creates a new outbox message
	Create(ctx context.Context, msg *domain.OutboxMessage) error

	// GetPending gets pending messages to be published
	GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// GetFailed gets failed messages that can be retried
	GetFailed(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// MarkPublished marks a message as successfully published
	MarkPublished(ctx context.Context, id string, now time.Time) error

	// MarkFailed marks a message as failed and counts the attempt
	MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error

	// MarkDeadLettered records that a message was handed to the DLQ
	MarkDeadLettered(ctx context.Context, id, errMsg string, now time.Time) error

	// DeletePublished deletes published messages older than cutoff
	DeletePublished(ctx context.Context, cutoff time.Time) (int64, error)
}
