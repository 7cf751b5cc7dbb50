package domain

import "errors"

// Domain errors
var (
	// Inventory errors
	ErrTicketTypeNotFound    = errors.New("ticket type not found")
	ErrOutOfStock            = errors.New("not enough tickets available")
	ErrSeatUnavailable       = errors.New("one or more seats are not available")
	ErrOrderLimitExceeded    = errors.New("quantity outside the allowed order limits")
	ErrSalesClosed           = errors.New("ticket sales are not open")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrReservationReleased   = errors.New("reservation was released")
	ErrSeatCountMismatch     = errors.New("number of seats must equal quantity")
	ErrEventMismatch         = errors.New("ticket type does not belong to event")
	ErrInsufficientSoldCount = errors.New("sold count would become negative")

	// Payment errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentStatusConflict  = errors.New("payment status changed concurrently")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrPaymentNotSucceeded    = errors.New("payment has not succeeded at the processor")
	ErrPaymentNotRefundable   = errors.New("only completed payments can be refunded")
	ErrRefundExceedsBalance   = errors.New("refund amount exceeds refundable balance")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrProcessorUnavailable   = errors.New("payment processor unavailable")
	ErrPaymentAccessForbidden = errors.New("payment belongs to another user")
	ErrRefundNotFound         = errors.New("refund not found")

	// Ticket errors
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrTicketNotActive       = errors.New("only active tickets can be cancelled")
	ErrTicketAccessForbidden = errors.New("ticket belongs to another user")

	// Webhook errors
	ErrBadSignature        = errors.New("webhook signature verification failed")
	ErrUnknownCorrelation  = errors.New("webhook does not correlate to a known payment")
	ErrAlreadyProcessed    = errors.New("webhook event already processed")
	ErrMalformedWebhook    = errors.New("webhook event payload is malformed")

	// Promo errors
	ErrPromoCodeNotFound  = errors.New("promo code not found")
	ErrPromoCodeExhausted = errors.New("promo code usage limit reached")

	// Waitlist errors
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")
	ErrAlreadyOnWaitlist     = errors.New("email is already on the waitlist for this event")
	ErrInvalidWaitlistPass   = errors.New("invalid or expired waitlist pass")
	ErrWaitlistAccessDenied  = errors.New("waitlist entry belongs to another user")

	// Validation errors
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrInvalidEventID  = errors.New("invalid event id")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidEmail    = errors.New("invalid email")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTicketTypeNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrPromoCodeNotFound) ||
		errors.Is(err, ErrRefundNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrWaitlistEntryNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSeatCountMismatch) ||
		errors.Is(err, ErrEventMismatch)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrSeatUnavailable) ||
		errors.Is(err, ErrPromoCodeExhausted) ||
		errors.Is(err, ErrPaymentStatusConflict) ||
		errors.Is(err, ErrAlreadyOnWaitlist) ||
		errors.Is(err, ErrReservationReleased) ||
		errors.Is(err, ErrTicketNotActive)
}
