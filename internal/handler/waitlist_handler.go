package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/dto"
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/prohmpiriya/ticketing-core/pkg/middleware"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
)

// WaitlistService is satisfied by *service.WaitlistManager
type WaitlistService interface {
	Join(ctx context.Context, req *service.JoinRequest) (*domain.WaitlistEntry, error)
	Notify(ctx context.Context, req *service.NotifyRequest) (*service.NotifyResult, error)
	Cancel(ctx context.Context, req *service.WaitlistCancelRequest) error
	List(ctx context.Context, eventID string, status domain.WaitlistStatus, limit, offset int) ([]*domain.WaitlistEntry, error)
}

// WaitlistHandler handles an event's waitlist
type WaitlistHandler struct {
	waitlist WaitlistService
}

// NewWaitlistHandler creates a new WaitlistHandler
func NewWaitlistHandler(waitlist WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// Join handles POST /events/:eventId/waitlist
func (h *WaitlistHandler) Join(c *gin.Context) {
	var req dto.JoinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, _ := middleware.GetUserID(c)
	entry, err := h.waitlist.Join(c.Request.Context(), req.ToService(c.Param("eventId"), userID))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, dto.FromWaitlistEntry(entry))
}

// List handles GET /events/:eventId/waitlist?status=WAITING
func (h *WaitlistHandler) List(c *gin.Context) {
	status := domain.WaitlistStatus(strings.ToUpper(c.Query("status")))
	limit, offset := pagination(c, 50, 200)

	entries, err := h.waitlist.List(c.Request.Context(), c.Param("eventId"), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMeta(c, dto.FromWaitlistEntries(entries), response.Meta{Limit: limit, Offset: offset, Count: len(entries)})
}

// Notify handles POST /events/:eventId/waitlist/notify
func (h *WaitlistHandler) Notify(c *gin.Context) {
	var req dto.NotifyWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if len(req.EntryIDs) == 0 && req.Count == 0 {
		req.Count = 1
	}

	result, err := h.waitlist.Notify(c.Request.Context(), &service.NotifyRequest{
		EventID:     c.Param("eventId"),
		EntryIDs:    req.EntryIDs,
		Count:       req.Count,
		ExpiryHours: req.ExpiryHours,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, dto.FromNotifyResult(result))
}

// Cancel handles DELETE /events/:eventId/waitlist/:entryId
// The entry's owner or an organizer may cancel
func (h *WaitlistHandler) Cancel(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	err := h.waitlist.Cancel(c.Request.Context(), &service.WaitlistCancelRequest{
		EventID:     c.Param("eventId"),
		EntryID:     c.Param("entryId"),
		RequesterID: userID,
		Privileged:  hasRole(c, PrivilegedRoles...),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"cancelled": true})
}
