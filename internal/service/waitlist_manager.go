package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/hkdf"
)

// DefaultWaitlistExpiryHours is how long a notified entry may purchase
const DefaultWaitlistExpiryHours = 24

const (
	passAudience = "waitlist"
	passKeyInfo  = "ticketing-core/waitlist-pass/v1"
)

// WaitlistConfig contains configuration for the waitlist manager
type WaitlistConfig struct {
	DefaultExpiryHours int
	// AutoNotify notifies the next waiting entries whenever capacity is released
	AutoNotify bool
	// PassSecret is key material, not the signing key itself. Passes are
	// signed with a key derived from it, so sharing it with access tokens
	// never makes a pass valid as one.
	PassSecret string
	PassIssuer string
	Now        Clock
}

// JoinRequest adds an email to an event's queue
type JoinRequest struct {
	EventID      string
	TicketTypeID string
	UserID       string
	Email        string
	Name         string
	Phone        string
	Quantity     int
}

// NotifyRequest names entries to notify, or asks for the next Count
// waiting entries by position when EntryIDs is empty
type NotifyRequest struct {
	EventID     string
	EntryIDs    []string
	Count       int
	ExpiryHours int
}

// NotifiedEntry is an entry that was just notified and its purchase pass
type NotifiedEntry struct {
	Entry *domain.WaitlistEntry `json:"entry"`
	Pass  string                `json:"-"`
}

// NotifyResult reports a notify run
type NotifyResult struct {
	Notified int              `json:"notified"`
	Entries  []*NotifiedEntry `json:"entries"`
}

// WaitlistCancelRequest removes an entry from its event's queue. Only the
// entry's owner or a privileged caller may cancel it.
type WaitlistCancelRequest struct {
	EventID     string
	EntryID     string
	RequesterID string
	Privileged  bool
}

// PassClaims are carried by a waitlist pass
type PassClaims struct {
	EntryID string `json:"entry_id"`
	EventID string `json:"event_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// WaitlistManager runs the per-event queue for sold-out inventory
type WaitlistManager struct {
	store   repository.Store
	config  WaitlistConfig
	passKey []byte
	now     Clock
}

// NewWaitlistManager creates a new waitlist manager
func NewWaitlistManager(store repository.Store, cfg *WaitlistConfig) *WaitlistManager {
	c := WaitlistConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultExpiryHours <= 0 {
		c.DefaultExpiryHours = DefaultWaitlistExpiryHours
	}
	if c.PassIssuer == "" {
		c.PassIssuer = "ticketing-core"
	}
	m := &WaitlistManager{store: store, config: c, now: clockOrDefault(c.Now)}
	if c.PassSecret != "" {
		m.passKey = DerivePassKey(c.PassSecret)
	}
	return m
}

// DerivePassKey expands secret into the HMAC key waitlist passes are
// signed with (HKDF-SHA256)
func DerivePassKey(secret string) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(passKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return key
}

// Join appends an entry at the end of the event's queue
func (m *WaitlistManager) Join(ctx context.Context, req *JoinRequest) (*domain.WaitlistEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.join")
	defer span.End()

	if req == nil || strings.TrimSpace(req.EventID) == "" {
		return nil, domain.ErrInvalidEventID
	}
	email := domain.NormalizeEmail(req.Email)
	if !domain.ValidEmail(email) {
		return nil, domain.ErrInvalidEmail
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := m.now()
	entry := &domain.WaitlistEntry{
		ID:        domain.NewID(),
		EventID:   req.EventID,
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		Quantity:  quantity,
		Status:    domain.WaitlistStatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.TicketTypeID != "" {
		tt := req.TicketTypeID
		entry.TicketTypeID = &tt
	}
	if req.UserID != "" {
		uid := req.UserID
		entry.UserID = &uid
	}

	err := m.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Waitlist.Create(ctx, entry)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.RecordWaitlist("joined", 1)
	span.SetAttributes(attribute.String("entry_id", entry.ID), attribute.Int("position", entry.Position))
	return entry, nil
}

// Notify moves WAITING entries to NOTIFIED and issues each a signed pass,
// delivered through the outbox. Entries that are no longer waiting are
// skipped.
func (m *WaitlistManager) Notify(ctx context.Context, req *NotifyRequest) (*NotifyResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.notify")
	defer span.End()

	if req == nil || req.EventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	hours := req.ExpiryHours
	if hours <= 0 {
		hours = m.config.DefaultExpiryHours
	}

	result := &NotifyResult{}
	err := m.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		result.Entries = result.Entries[:0]

		ids := req.EntryIDs
		if len(ids) == 0 {
			count := max(1, req.Count)
			waiting, err := repos.Waitlist.ListByEvent(ctx, req.EventID, domain.WaitlistStatusWaiting, count, 0)
			if err != nil {
				return err
			}
			for _, e := range waiting {
				ids = append(ids, e.ID)
			}
		}

		now := m.now()
		expiresAt := now.Add(time.Duration(hours) * time.Hour)
		for _, id := range ids {
			current, err := repos.Waitlist.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrWaitlistEntryNotFound) {
					continue
				}
				return err
			}
			if current.EventID != req.EventID {
				continue
			}
			entry, err := repos.Waitlist.Notify(ctx, id, now, expiresAt)
			if err != nil {
				return err
			}
			if entry == nil {
				continue
			}
			pass, err := m.issuePass(entry, now)
			if err != nil {
				return err
			}
			if err := enqueue(ctx, repos, "waitlist_entry", entry.ID, domain.EventWaitlistNotified, domain.NewWaitlistNotifiedEvent(entry, pass, now), now); err != nil {
				return err
			}
			result.Entries = append(result.Entries, &NotifiedEntry{Entry: entry, Pass: pass})
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result.Notified = len(result.Entries)
	metrics.RecordWaitlist("notified", result.Notified)
	span.SetAttributes(attribute.Int("notified", result.Notified))
	return result, nil
}

func (m *WaitlistManager) issuePass(e *domain.WaitlistEntry, now time.Time) (string, error) {
	if len(m.passKey) == 0 {
		return "", fmt.Errorf("waitlist pass secret is not configured")
	}
	claims := &PassClaims{
		EntryID: e.ID,
		EventID: e.EventID,
		Email:   e.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        domain.NewID(),
			Subject:   e.ID,
			Issuer:    m.config.PassIssuer,
			Audience:  jwt.ClaimStrings{passAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(*e.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.passKey)
}

// ValidatePass checks a pass for eventID and returns its NOTIFIED entry.
// Any problem yields ErrInvalidWaitlistPass.
func (m *WaitlistManager) ValidatePass(ctx context.Context, pass, eventID string) (*domain.WaitlistEntry, error) {
	claims := &PassClaims{}
	token, err := jwt.ParseWithClaims(pass, claims, func(t *jwt.Token) (interface{}, error) {
		return m.passKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.PassIssuer),
		jwt.WithAudience(passAudience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || len(m.passKey) == 0 {
		return nil, domain.ErrInvalidWaitlistPass
	}
	if claims.EventID != eventID {
		return nil, domain.ErrInvalidWaitlistPass
	}

	entry, err := m.store.Repos().Waitlist.GetByID(ctx, claims.EntryID)
	if err != nil {
		if errors.Is(err, domain.ErrWaitlistEntryNotFound) {
			return nil, domain.ErrInvalidWaitlistPass
		}
		return nil, err
	}
	if entry.Status != domain.WaitlistStatusNotified || entry.ExpiresAt == nil || !m.now().Before(*entry.ExpiresAt) {
		return nil, domain.ErrInvalidWaitlistPass
	}
	return entry, nil
}

// ExpireSweep expires NOTIFIED entries whose purchase window passed
func (m *WaitlistManager) ExpireSweep(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.expire_sweep")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	n, err := m.store.Repos().Waitlist.ExpireNotified(ctx, m.now(), limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to expire waitlist entries: %w", err)
	}
	if n > 0 {
		metrics.RecordWaitlist("expired", int(n))
	}
	return int(n), nil
}

// Cancel removes a WAITING or NOTIFIED entry from the queue. Entries joined
// without an account can only be cancelled by a privileged caller.
func (m *WaitlistManager) Cancel(ctx context.Context, req *WaitlistCancelRequest) error {
	if req == nil || req.EntryID == "" {
		return domain.ErrWaitlistEntryNotFound
	}
	return m.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		entry, err := repos.Waitlist.GetByID(ctx, req.EntryID)
		if err != nil {
			return err
		}
		if entry.EventID != req.EventID {
			return domain.ErrWaitlistEntryNotFound
		}
		if !req.Privileged && (entry.UserID == nil || req.RequesterID == "" || *entry.UserID != req.RequesterID) {
			return domain.ErrWaitlistAccessDenied
		}
		if err := repos.Waitlist.Cancel(ctx, entry.ID, m.now()); err != nil {
			return err
		}
		metrics.RecordWaitlist("cancelled", 1)
		return nil
	})
}

// List returns an event's entries by position. An empty status lists all.
func (m *WaitlistManager) List(ctx context.Context, eventID string, status domain.WaitlistStatus, limit, offset int) ([]*domain.WaitlistEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.store.Repos().Waitlist.ListByEvent(ctx, eventID, status, limit, max(0, offset))
}

// OnCapacityReleased notifies waiting entries, by position, until their
// requested quantities cover what was released. The first entry is always
// notified.
func (m *WaitlistManager) OnCapacityReleased(ctx context.Context, eventID string, quantity int) {
	if !m.config.AutoNotify || quantity <= 0 || eventID == "" {
		return
	}

	waiting, err := m.store.Repos().Waitlist.ListByEvent(ctx, eventID, domain.WaitlistStatusWaiting, quantity, 0)
	if err != nil {
		logger.Get().WarnContext(ctx, fmt.Sprintf("Failed to list waitlist of event %s: %v", eventID, err))
		return
	}
	var ids []string
	covered := 0
	for _, e := range waiting {
		if len(ids) > 0 && covered+e.Quantity > quantity {
			break
		}
		ids = append(ids, e.ID)
		covered += e.Quantity
	}
	if len(ids) == 0 {
		return
	}

	result, err := m.Notify(ctx, &NotifyRequest{EventID: eventID, EntryIDs: ids})
	if err != nil {
		logger.Get().WarnContext(ctx, fmt.Sprintf("Failed to notify waitlist of event %s: %v", eventID, err))
		return
	}
	logger.Get().Info(fmt.Sprintf("Released %d tickets for event %s, notified %d waitlist entries", quantity, eventID, result.Notified))
}

var _ CapacityListener = (*WaitlistManager)(nil)
