package domain

import (
	"strings"
	"time"
)

// WaitlistStatus is the state of a waitlist entry
type WaitlistStatus string

const (
	WaitlistStatusWaiting   WaitlistStatus = "WAITING"
	WaitlistStatusNotified  WaitlistStatus = "NOTIFIED"
	WaitlistStatusConverted WaitlistStatus = "CONVERTED"
	WaitlistStatusExpired   WaitlistStatus = "EXPIRED"
	WaitlistStatusCancelled WaitlistStatus = "CANCELLED"
)

var waitlistTransitions = map[WaitlistStatus][]WaitlistStatus{
	WaitlistStatusWaiting:  {WaitlistStatusNotified, WaitlistStatusCancelled},
	WaitlistStatusNotified: {WaitlistStatusConverted, WaitlistStatusExpired, WaitlistStatusCancelled},
}

// CanTransitionTo reports whether s -> next is a legal move
func (s WaitlistStatus) CanTransitionTo(next WaitlistStatus) bool {
	for _, allowed := range waitlistTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WaitlistEntry is a place in an event's queue for released capacity
type WaitlistEntry struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	TicketTypeID *string        `json:"ticket_type_id,omitempty"`
	UserID       *string        `json:"user_id,omitempty"`
	Email        string         `json:"email"`
	Name         string         `json:"name,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Quantity     int            `json:"quantity"`
	Position     int            `json:"position"`
	Status       WaitlistStatus `json:"status"`
	NotifiedAt   *time.Time     `json:"notified_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	ConvertedAt  *time.Time     `json:"converted_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail is a shape check only
func ValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}
