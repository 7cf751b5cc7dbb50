package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultHoldWindow is how long reserved inventory waits for payment
const DefaultHoldWindow = 15 * time.Minute

// LedgerConfig contains configuration for the inventory ledger
type LedgerConfig struct {
	HoldWindow time.Duration
	Now        Clock
}

// InventoryLedger reserves, commits and releases ticket inventory. Reserve,
// Commit, Release and ReturnSold run inside the caller's transaction.
type InventoryLedger struct {
	store      repository.Store
	promos     *PromoValidator
	listener   CapacityListener
	holdWindow time.Duration
	now        Clock
}

// ReserveRequest asks for quantity units of a ticket type, optionally
// naming the exact seats
type ReserveRequest struct {
	ReservationID string
	PaymentID     string
	EventID       string
	TicketTypeID  string
	Quantity      int
	SeatIDs       []string
}

// NewInventoryLedger creates a new ledger. listener may be nil.
func NewInventoryLedger(store repository.Store, promos *PromoValidator, listener CapacityListener, cfg *LedgerConfig) *InventoryLedger {
	l := &InventoryLedger{
		store:      store,
		promos:     promos,
		listener:   listener,
		holdWindow: DefaultHoldWindow,
		now:        time.Now,
	}
	if cfg != nil {
		if cfg.HoldWindow > 0 {
			l.holdWindow = cfg.HoldWindow
		}
		l.now = clockOrDefault(cfg.Now)
	}
	return l
}

// HoldWindow returns the configured hold duration
func (l *InventoryLedger) HoldWindow() time.Duration {
	return l.holdWindow
}

// Reserve takes req.Quantity units (and seats) off sale and returns the
// HELD reservation token
func (l *InventoryLedger) Reserve(ctx context.Context, repos repository.Repositories, req *ReserveRequest) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.inventory.reserve")
	defer span.End()

	if req == nil || req.Quantity <= 0 {
		span.SetStatus(codes.Error, "invalid quantity")
		return nil, domain.ErrInvalidQuantity
	}
	if len(req.SeatIDs) > 0 && len(req.SeatIDs) != req.Quantity {
		span.SetStatus(codes.Error, "seat count mismatch")
		return nil, domain.ErrSeatCountMismatch
	}
	span.SetAttributes(
		attribute.String("ticket_type_id", req.TicketTypeID),
		attribute.Int("quantity", req.Quantity),
		attribute.Int("seats", len(req.SeatIDs)),
	)

	tt, err := repos.Inventory.GetTicketType(ctx, req.TicketTypeID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if req.EventID != "" && tt.EventID != req.EventID {
		span.SetStatus(codes.Error, "event mismatch")
		return nil, domain.ErrEventMismatch
	}
	if err := tt.ValidateQuantity(req.Quantity); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := repos.Inventory.IncrementSold(ctx, tt.ID, req.Quantity); err != nil {
		if errors.Is(err, domain.ErrOutOfStock) {
			metrics.RecordReservation("out_of_stock")
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	now := l.now()
	id := req.ReservationID
	if id == "" {
		id = domain.NewID()
	}
	res := &domain.Reservation{
		ID:           id,
		PaymentID:    req.PaymentID,
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		Quantity:     req.Quantity,
		SeatIDs:      req.SeatIDs,
		Status:       domain.ReservationStatusHeld,
		ExpiresAt:    now.Add(l.holdWindow),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if len(req.SeatIDs) > 0 {
		if err := repos.Inventory.ReserveSeats(ctx, tt.ID, res.ID, req.SeatIDs, res.ExpiresAt); err != nil {
			if errors.Is(err, domain.ErrSeatUnavailable) {
				metrics.RecordReservation("seat_unavailable")
			}
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if err := repos.Inventory.CreateReservation(ctx, res); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	metrics.RecordReservation("reserved")
	span.SetAttributes(attribute.String("reservation_id", res.ID))
	return res, nil
}

// Commit makes a reservation permanent. COMMITTED is a no-op. An EXPIRED
// reservation re-acquires its inventory and fails with ErrOutOfStock or
// ErrSeatUnavailable when it is gone; a RELEASED one fails with
// ErrReservationReleased.
func (l *InventoryLedger) Commit(ctx context.Context, repos repository.Repositories, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.inventory.commit")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	res, err := repos.Inventory.GetReservation(ctx, reservationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	now := l.now()
	switch res.Status {
	case domain.ReservationStatusCommitted:
		return nil
	case domain.ReservationStatusReleased:
		span.SetStatus(codes.Error, "reservation released")
		return domain.ErrReservationReleased
	case domain.ReservationStatusExpired:
		if err := repos.Inventory.IncrementSold(ctx, res.TicketTypeID, res.Quantity); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		if len(res.SeatIDs) > 0 {
			if err := repos.Inventory.ReserveSeats(ctx, res.TicketTypeID, res.ID, res.SeatIDs, now); err != nil {
				telemetry.RecordError(span, err)
				return err
			}
		}
		span.AddEvent("inventory_reacquired")
	}

	ok, err := repos.Inventory.TransitionReservation(ctx, res.ID, res.Status, domain.ReservationStatusCommitted, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if !ok {
		err := fmt.Errorf("reservation %s changed concurrently", res.ID)
		telemetry.RecordError(span, err)
		return err
	}

	if len(res.SeatIDs) > 0 {
		if err := repos.Inventory.MarkSeatsSold(ctx, res.ID, res.SeatIDs); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	return nil
}

// Release puts a HELD reservation back on sale and reports whether it did.
// Any other status is a no-op so inventory is never returned twice.
func (l *InventoryLedger) Release(ctx context.Context, repos repository.Repositories, reservationID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.inventory.release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	res, err := repos.Inventory.GetReservation(ctx, reservationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	if res.Status != domain.ReservationStatusHeld {
		return false, nil
	}

	if err := l.giveBack(ctx, repos, res, domain.ReservationStatusReleased); err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	metrics.RecordReservation("released")
	return true, nil
}

// giveBack moves a HELD reservation to status and returns its units and seats
func (l *InventoryLedger) giveBack(ctx context.Context, repos repository.Repositories, res *domain.Reservation, status domain.ReservationStatus) error {
	ok, err := repos.Inventory.TransitionReservation(ctx, res.ID, domain.ReservationStatusHeld, status, l.now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := repos.Inventory.DecrementSold(ctx, res.TicketTypeID, res.Quantity); err != nil {
		return err
	}
	if len(res.SeatIDs) > 0 {
		if err := repos.Inventory.ReleaseSeats(ctx, res.ID, res.SeatIDs); err != nil {
			return err
		}
	}
	return nil
}

// ReturnSold puts n refunded units back on sale, freeing their seats
func (l *InventoryLedger) ReturnSold(ctx context.Context, repos repository.Repositories, ticketTypeID string, seatIDs []string, n int) error {
	if n <= 0 {
		return nil
	}
	if len(seatIDs) > 0 {
		if _, err := repos.Inventory.ReleaseSoldSeats(ctx, seatIDs); err != nil {
			return err
		}
	}
	return repos.Inventory.DecrementSold(ctx, ticketTypeID, n)
}

// ReclaimExpired expires HELD reservations past their window, one
// transaction each, and returns how many it reclaimed. An empty
// ticketTypeID sweeps every ticket type.
func (l *InventoryLedger) ReclaimExpired(ctx context.Context, ticketTypeID string, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.inventory.reclaim_expired")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	expired, err := l.store.Repos().Inventory.ListExpiredReservations(ctx, ticketTypeID, l.now(), limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	log := logger.Get()
	reclaimed := 0
	for _, res := range expired {
		done := false
		err := l.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			current, err := repos.Inventory.GetReservation(ctx, res.ID)
			if err != nil {
				return err
			}
			if current.Status != domain.ReservationStatusHeld {
				return nil
			}
			if err := l.giveBack(ctx, repos, current, domain.ReservationStatusExpired); err != nil {
				return err
			}
			if err := l.restorePromo(ctx, repos, current.PaymentID); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			log.Warn(fmt.Sprintf("Failed to reclaim reservation %s: %v", res.ID, err))
			continue
		}
		if !done {
			continue
		}
		reclaimed++
		if l.listener != nil {
			l.listener.OnCapacityReleased(ctx, res.EventID, res.Quantity)
		}
	}

	if reclaimed > 0 {
		metrics.RecordReservations("expired", reclaimed)
		log.Info(fmt.Sprintf("Reclaimed %d expired reservations", reclaimed))
	}
	span.SetAttributes(attribute.Int("reclaimed", reclaimed))
	return reclaimed, nil
}

func (l *InventoryLedger) restorePromo(ctx context.Context, repos repository.Repositories, paymentID string) error {
	if paymentID == "" || l.promos == nil {
		return nil
	}
	p, err := repos.Payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil
		}
		return err
	}
	if p.PromoCodeID == nil {
		return nil
	}
	return l.promos.Restore(ctx, repos, *p.PromoCodeID)
}

// Availability returns the stock of a ticket type
func (l *InventoryLedger) Availability(ctx context.Context, ticketTypeID string) (*domain.Availability, error) {
	tt, err := l.store.Repos().Inventory.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	return &domain.Availability{
		TicketTypeID: tt.ID,
		Quantity:     tt.Quantity,
		Sold:         tt.QuantitySold,
		Available:    tt.Available(),
	}, nil
}
