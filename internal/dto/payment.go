package dto

import (
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/pricing"
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/shopspring/decimal"
)

// PurchaseRequest represents a request to buy tickets
type PurchaseRequest struct {
	EventID      string   `json:"event_id" binding:"required"`
	TicketTypeID string   `json:"ticket_type_id" binding:"required"`
	Quantity     int      `json:"quantity" binding:"required,gt=0"`
	SeatIDs      []string `json:"seat_ids,omitempty"`
	PromoCode    string   `json:"promo_code,omitempty"`
	BillingEmail string   `json:"billing_email" binding:"required,email"`
	BillingName  string   `json:"billing_name,omitempty"`
	WaitlistPass string   `json:"waitlist_pass,omitempty"`
}

// ToService converts the request for the payment coordinator
func (r *PurchaseRequest) ToService(userID string) *service.PurchaseRequest {
	return &service.PurchaseRequest{
		UserID:       userID,
		EventID:      r.EventID,
		TicketTypeID: r.TicketTypeID,
		Quantity:     r.Quantity,
		SeatIDs:      r.SeatIDs,
		PromoCode:    r.PromoCode,
		BillingEmail: r.BillingEmail,
		BillingName:  r.BillingName,
		WaitlistPass: r.WaitlistPass,
	}
}

// PurchaseResponse is an opened payment and the secret the client pays with
type PurchaseResponse struct {
	Payment           *PaymentResponse  `json:"payment"`
	ClientSecret      string            `json:"client_secret"`
	ReservationID     string            `json:"reservation_id"`
	ReservationExpiry time.Time         `json:"reservation_expires_at"`
	Pricing           pricing.Breakdown `json:"pricing"`
}

// FromPurchase converts a purchase result
func FromPurchase(r *service.PurchaseResult) *PurchaseResponse {
	resp := &PurchaseResponse{
		Payment:      FromPayment(r.Payment),
		ClientSecret: r.ClientSecret,
		Pricing:      r.Breakdown,
	}
	if r.Reservation != nil {
		resp.ReservationID = r.Reservation.ID
		resp.ReservationExpiry = r.Reservation.ExpiresAt
	}
	return resp
}

// ConfirmPaymentRequest represents a client-side confirmation after the
// buyer completed the intent
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// RefundPaymentRequest represents a request to refund a payment. A missing
// amount refunds the remaining balance.
type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// RefundResponse is the payment after a refund
type RefundResponse struct {
	Payment          *PaymentResponse `json:"payment"`
	RefundID         string           `json:"refund_id"`
	RefundAmount     decimal.Decimal  `json:"refund_amount"`
	TicketsCancelled int              `json:"tickets_cancelled"`
}

// FromRefund converts a refund result
func FromRefund(r *service.RefundResult) *RefundResponse {
	resp := &RefundResponse{
		Payment:      FromPayment(r.Payment),
		RefundAmount: r.RefundAmount,
	}
	if r.Refund != nil {
		resp.RefundID = r.Refund.ID
		resp.TicketsCancelled = r.Refund.TicketsCancelled
	}
	return resp
}

// PaymentResponse represents a payment response
type PaymentResponse struct {
	ID                 string               `json:"id"`
	OrderNumber        string               `json:"order_number"`
	UserID             string               `json:"user_id"`
	EventID            string               `json:"event_id"`
	TicketTypeID       string               `json:"ticket_type_id"`
	Quantity           int                  `json:"quantity"`
	Status             domain.PaymentStatus `json:"status"`
	Currency           string               `json:"currency"`
	PromoCode          string               `json:"promo_code,omitempty"`
	Subtotal           decimal.Decimal      `json:"subtotal"`
	Discount           decimal.Decimal      `json:"discount"`
	TaxAmount          decimal.Decimal      `json:"tax_amount"`
	ServiceFee         decimal.Decimal      `json:"service_fee"`
	TotalAmount        decimal.Decimal      `json:"total_amount"`
	RefundedAmount     decimal.Decimal      `json:"refunded_amount"`
	ProcessorFee       decimal.Decimal      `json:"processor_fee"`
	PlatformCommission decimal.Decimal      `json:"platform_commission"`
	OrganizerPayout    decimal.Decimal      `json:"organizer_payout"`
	Processor          string               `json:"processor"`
	IntentID           string               `json:"payment_intent_id,omitempty"`
	FailureCode        string               `json:"failure_code,omitempty"`
	FailureMessage     string               `json:"failure_message,omitempty"`
	RefundReason       string               `json:"refund_reason,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	RefundedAt         *time.Time           `json:"refunded_at,omitempty"`
	Tickets            []*TicketResponse    `json:"tickets,omitempty"`
}

// FromPayment converts a domain Payment to PaymentResponse
func FromPayment(p *domain.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	return &PaymentResponse{
		ID:                 p.ID,
		OrderNumber:        p.OrderNumber,
		UserID:             p.UserID,
		EventID:            p.EventID,
		TicketTypeID:       p.TicketTypeID,
		Quantity:           p.Quantity,
		Status:             p.Status,
		Currency:           p.Currency,
		PromoCode:          p.PromoCode,
		Subtotal:           p.Subtotal,
		Discount:           p.Discount,
		TaxAmount:          p.TaxAmount,
		ServiceFee:         p.ServiceFee,
		TotalAmount:        p.TotalAmount,
		RefundedAmount:     p.RefundedAmount,
		ProcessorFee:       p.ProcessorFee,
		PlatformCommission: p.PlatformCommission,
		OrganizerPayout:    p.OrganizerPayout,
		Processor:          p.Processor,
		IntentID:           p.IntentID,
		FailureCode:        p.FailureCode,
		FailureMessage:     p.FailureMessage,
		RefundReason:       p.RefundReason,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		CompletedAt:        p.CompletedAt,
		RefundedAt:         p.RefundedAt,
	}
}

// WithTickets attaches issued tickets
func (r *PaymentResponse) WithTickets(tickets []*domain.Ticket) *PaymentResponse {
	r.Tickets = make([]*TicketResponse, len(tickets))
	for i, t := range tickets {
		r.Tickets[i] = FromTicket(t)
	}
	return r
}

// TicketResponse represents an issued ticket
type TicketResponse struct {
	ID           string              `json:"id"`
	TicketNumber string              `json:"ticket_number"`
	ScanCode     string              `json:"scan_code"`
	Barcode      string              `json:"barcode"`
	SeatID       *string             `json:"seat_id,omitempty"`
	PricePaid    decimal.Decimal     `json:"price_paid"`
	Status       domain.TicketStatus `json:"status"`
}

// FromTicket converts a domain Ticket
func FromTicket(t *domain.Ticket) *TicketResponse {
	return &TicketResponse{
		ID:           t.ID,
		TicketNumber: t.TicketNumber,
		ScanCode:     t.ScanCode,
		Barcode:      t.Barcode,
		SeatID:       t.SeatID,
		PricePaid:    t.PricePaid,
		Status:       t.Status,
	}
}

// PaymentListResponse represents a list of payments
type PaymentListResponse struct {
	Payments []*PaymentResponse `json:"payments"`
	Total    int                `json:"total"`
}

// FromPayments converts a page of payments
func FromPayments(payments []*domain.Payment) *PaymentListResponse {
	out := make([]*PaymentResponse, len(payments))
	for i, p := range payments {
		out[i] = FromPayment(p)
	}
	return &PaymentListResponse{Payments: out, Total: len(out)}
}

// WebhookAck is returned to the processor
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}
