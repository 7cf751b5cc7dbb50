package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/dto"
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/prohmpiriya/ticketing-core/pkg/middleware"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// PaymentService is satisfied by *service.PaymentIntentCoordinator
type PaymentService interface {
	Open(ctx context.Context, req *service.PurchaseRequest) (*service.PurchaseResult, error)
	Confirm(ctx context.Context, intentID, requesterID string) (*domain.Payment, error)
	Get(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error)
	Tickets(ctx context.Context, paymentID, requesterID string) ([]*domain.Ticket, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Payment, error)
}

// RefundService is satisfied by *service.RefundCoordinator
type RefundService interface {
	Refund(ctx context.Context, req *service.RefundRequest) (*service.RefundResult, error)
}

// PrivilegedRoles may refund payments they do not own
var PrivilegedRoles = []string{"admin", "organizer"}

// PaymentHandler handles purchase and payment endpoints
type PaymentHandler struct {
	payments PaymentService
	refunds  RefundService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentService, refunds RefundService) *PaymentHandler {
	return &PaymentHandler{payments: payments, refunds: refunds}
}

// Purchase handles POST /purchase
// Reserves inventory and opens a processor intent
func (h *PaymentHandler) Purchase(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase")
	defer span.End()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("event_id", req.EventID),
		attribute.String("ticket_type_id", req.TicketTypeID),
		attribute.Int("quantity", req.Quantity),
	)

	result, err := h.payments.Open(ctx, req.ToService(userID))
	if err != nil {
		telemetry.RecordError(span, err)
		respondError(c, err)
		return
	}

	response.Created(c, dto.FromPurchase(result))
}

// Confirm handles POST /payments/confirm
// Settles a payment from the client when the webhook has not arrived yet
func (h *PaymentHandler) Confirm(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.confirm")
	defer span.End()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}

	var req dto.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	p, err := h.payments.Confirm(ctx, req.PaymentIntentID, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		respondError(c, err)
		return
	}

	tickets, err := h.payments.Tickets(ctx, p.ID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, dto.FromPayment(p).WithTickets(tickets))
}

// GetPayment handles GET /payments/:id
// Returns a payment and its tickets
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}

	paymentID := c.Param("id")
	p, err := h.payments.Get(ctx, paymentID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	tickets, err := h.payments.Tickets(ctx, paymentID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, dto.FromPayment(p).WithTickets(tickets))
}

// ListPayments handles GET /payments
// Returns the caller's payments, newest first
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}

	limit, offset := pagination(c, 20, 100)
	payments, err := h.payments.ListForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMeta(c, dto.FromPayments(payments), response.Meta{Limit: limit, Offset: offset, Count: len(payments)})
}

// Refund handles POST /payments/:id/refund
// Refunds part or all of a completed payment
func (h *PaymentHandler) Refund(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.refund")
	defer span.End()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}

	var req dto.RefundPaymentRequest
	// Request body is optional for a full refund
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}

	paymentID := c.Param("id")
	span.SetAttributes(attribute.String("payment_id", paymentID))

	result, err := h.refunds.Refund(ctx, &service.RefundRequest{
		PaymentID:   paymentID,
		Amount:      req.Amount,
		Reason:      reason,
		RequesterID: userID,
		Privileged:  hasRole(c, PrivilegedRoles...),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		respondError(c, err)
		return
	}

	response.Success(c, dto.FromRefund(result))
}

func hasRole(c *gin.Context, roles ...string) bool {
	role := c.GetString(middleware.ContextKeyRole)
	for _, r := range roles {
		if role == r {
			return true
		}
	}
	return false
}

// pagination parses limit and offset, falling back to def for bad input
func pagination(c *gin.Context, def, maxLimit int) (int, int) {
	limit := def
	offset := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
