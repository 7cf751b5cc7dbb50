package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
)

// AvailabilityService is satisfied by *service.InventoryLedger
type AvailabilityService interface {
	Availability(ctx context.Context, ticketTypeID string) (*domain.Availability, error)
}

// InventoryHandler exposes public stock counts
type InventoryHandler struct {
	inventory AvailabilityService
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(inventory AvailabilityService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// Availability handles GET /ticket-types/:id/availability
func (h *InventoryHandler) Availability(c *gin.Context) {
	availability, err := h.inventory.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, availability)
}
