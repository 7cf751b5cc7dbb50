package dto

import (
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/service"
)

// JoinWaitlistRequest represents a request to join an event's waitlist
type JoinWaitlistRequest struct {
	TicketTypeID string `json:"ticket_type_id,omitempty"`
	Email        string `json:"email" binding:"required,email"`
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Quantity     int    `json:"quantity" binding:"omitempty,gte=1,lte=10"`
}

// ToService converts the request for the waitlist manager
func (r *JoinWaitlistRequest) ToService(eventID, userID string) *service.JoinRequest {
	qty := r.Quantity
	if qty == 0 {
		qty = 1
	}
	return &service.JoinRequest{
		EventID:      eventID,
		TicketTypeID: r.TicketTypeID,
		UserID:       userID,
		Email:        r.Email,
		Name:         r.Name,
		Phone:        r.Phone,
		Quantity:     qty,
	}
}

// NotifyWaitlistRequest names entries to notify, or the next count waiting
type NotifyWaitlistRequest struct {
	EntryIDs    []string `json:"entry_ids,omitempty"`
	Count       int      `json:"count,omitempty" binding:"omitempty,gte=1"`
	ExpiryHours int      `json:"expiry_hours,omitempty" binding:"omitempty,gte=1"`
}

// WaitlistEntryResponse represents a waitlist entry
type WaitlistEntryResponse struct {
	ID           string                `json:"id"`
	EventID      string                `json:"event_id"`
	TicketTypeID *string               `json:"ticket_type_id,omitempty"`
	Email        string                `json:"email"`
	Name         string                `json:"name,omitempty"`
	Quantity     int                   `json:"quantity"`
	Position     int                   `json:"position"`
	Status       domain.WaitlistStatus `json:"status"`
	NotifiedAt   *time.Time            `json:"notified_at,omitempty"`
	ExpiresAt    *time.Time            `json:"expires_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// FromWaitlistEntry converts a domain WaitlistEntry
func FromWaitlistEntry(e *domain.WaitlistEntry) *WaitlistEntryResponse {
	return &WaitlistEntryResponse{
		ID:           e.ID,
		EventID:      e.EventID,
		TicketTypeID: e.TicketTypeID,
		Email:        e.Email,
		Name:         e.Name,
		Quantity:     e.Quantity,
		Position:     e.Position,
		Status:       e.Status,
		NotifiedAt:   e.NotifiedAt,
		ExpiresAt:    e.ExpiresAt,
		CreatedAt:    e.CreatedAt,
	}
}

// FromWaitlistEntries converts a page of entries
func FromWaitlistEntries(entries []*domain.WaitlistEntry) []*WaitlistEntryResponse {
	out := make([]*WaitlistEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = FromWaitlistEntry(e)
	}
	return out
}

// NotifyWaitlistResponse reports which entries were notified. Passes are
// delivered through the notification pipeline, never in the response.
type NotifyWaitlistResponse struct {
	Notified int                      `json:"notified"`
	Entries  []*WaitlistEntryResponse `json:"entries"`
}

// FromNotifyResult converts a notify run
func FromNotifyResult(r *service.NotifyResult) *NotifyWaitlistResponse {
	resp := &NotifyWaitlistResponse{Notified: r.Notified, Entries: make([]*WaitlistEntryResponse, 0, len(r.Entries))}
	for _, n := range r.Entries {
		resp.Entries = append(resp.Entries, FromWaitlistEntry(n.Entry))
	}
	return resp
}
