package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/dto"
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/prohmpiriya/ticketing-core/pkg/middleware"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// TicketService is satisfied by *service.TicketService
type TicketService interface {
	Cancel(ctx context.Context, req *service.TicketCancelRequest) (*domain.Ticket, error)
}

// TicketHandler handles issued tickets
type TicketHandler struct {
	tickets TicketService
}

// NewTicketHandler creates a new TicketHandler
func NewTicketHandler(tickets TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// Cancel handles POST /tickets/:id/cancel
// The holder or an organizer voids a ticket and frees its seat
func (h *TicketHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.cancel")
	defer span.End()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}
	ticketID := c.Param("id")
	span.SetAttributes(attribute.String("ticket_id", ticketID))

	t, err := h.tickets.Cancel(ctx, &service.TicketCancelRequest{
		TicketID:    ticketID,
		RequesterID: userID,
		Privileged:  hasRole(c, PrivilegedRoles...),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		respondError(c, err)
		return
	}

	response.Success(c, dto.FromTicket(t))
}
