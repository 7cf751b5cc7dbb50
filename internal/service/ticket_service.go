package service

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// TicketCancelRequest asks to void one issued ticket
type TicketCancelRequest struct {
	TicketID    string
	RequesterID string
	// Privileged skips the ownership check (organizers, admins)
	Privileged bool
}

// TicketService manages issued tickets outside the purchase flow
type TicketService struct {
	store    repository.Store
	ledger   *InventoryLedger
	listener CapacityListener
	now      Clock
}

// NewTicketService creates a new ticket service. listener may be nil.
func NewTicketService(store repository.Store, ledger *InventoryLedger, listener CapacityListener, now Clock) *TicketService {
	return &TicketService{
		store:    store,
		ledger:   ledger,
		listener: listener,
		now:      clockOrDefault(now),
	}
}

// Cancel voids an ACTIVE ticket and returns its unit (and seat) to stock.
// No money moves; refunds go through RefundCoordinator.
func (s *TicketService) Cancel(ctx context.Context, req *TicketCancelRequest) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.cancel")
	defer span.End()

	if req == nil || req.TicketID == "" {
		return nil, domain.ErrTicketNotFound
	}
	span.SetAttributes(attribute.String("ticket_id", req.TicketID))

	var ticket *domain.Ticket
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		t, err := repos.Tickets.GetByID(ctx, req.TicketID)
		if err != nil {
			return err
		}
		if !req.Privileged && t.UserID != req.RequesterID {
			return domain.ErrTicketAccessForbidden
		}
		if !t.Status.CanTransitionTo(domain.TicketStatusCancelled) {
			return fmt.Errorf("%w: ticket is %s", domain.ErrTicketNotActive, t.Status)
		}

		now := s.now()
		ok, err := repos.Tickets.Cancel(ctx, t.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrTicketNotActive
		}

		var seatIDs []string
		if t.SeatID != nil {
			seatIDs = []string{*t.SeatID}
		}
		if err := s.ledger.ReturnSold(ctx, repos, t.TicketTypeID, seatIDs, 1); err != nil {
			return err
		}

		t.Status = domain.TicketStatusCancelled
		t.CancelledAt = &now
		t.UpdatedAt = now
		ticket = t
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.RecordTicketsCancelled(1)
	if s.listener != nil {
		s.listener.OnCapacityReleased(ctx, ticket.EventID, 1)
	}
	logger.Get().Info(fmt.Sprintf("Cancelled ticket %s of event %s", ticket.TicketNumber, ticket.EventID))

	return ticket, nil
}
