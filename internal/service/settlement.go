package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
)

// SettleOutcome describes what a processor verdict did to a payment
type SettleOutcome string

const (
	OutcomeSettled              SettleOutcome = "settled"
	OutcomeFailed               SettleOutcome = "failed"
	OutcomeRefunded             SettleOutcome = "refunded"
	OutcomeIgnored              SettleOutcome = "ignored"
	OutcomeAlreadySettled       SettleOutcome = "already_settled"
	OutcomeInventoryUnavailable SettleOutcome = "inventory_unavailable"
	OutcomeOrphanRefunded       SettleOutcome = "orphan_refunded"
)

// ReasonInventoryUnavailable is the refund reason when a late success
// finds its inventory sold to someone else
const ReasonInventoryUnavailable = "inventory_unavailable"

// settler applies a processor verdict to a locked payment. The webhook
// path and the client confirm path share it so both settle identically.
type settler struct {
	store     repository.Store
	processor gateway.Processor
	caller    processorCaller
	ledger    *InventoryLedger
	promos    *PromoValidator
	refunds   *RefundCoordinator
	listener  CapacityListener
	now       Clock
}

// txStep runs first inside a settlement transaction, e.g. to record a
// webhook event id
type txStep func(ctx context.Context, repos repository.Repositories) error

// settleSucceeded applies a processor success to paymentID in one
// transaction. If the inventory was lost meanwhile the transaction is
// rolled back and the payment is completed without tickets and refunded.
// A success for a FAILED payment refunds the orphan charge.
func (s *settler) settleSucceeded(ctx context.Context, paymentID, intentID, chargeID string, first txStep) (SettleOutcome, *domain.Payment, error) {
	var (
		outcome SettleOutcome
		p       *domain.Payment
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if first != nil {
			if err := first(ctx, repos); err != nil {
				return err
			}
		}
		var err error
		p, err = repos.Payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.IntentID == "" && intentID != "" {
			p.IntentID = intentID
		}
		outcome, err = s.success(ctx, repos, p, chargeID)
		return err
	})

	if err != nil && inventoryLost(err) {
		logger.Get().WarnContext(ctx, fmt.Sprintf("Payment %s succeeded but its inventory is gone: %v", paymentID, err))
		completed := false
		err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			if first != nil {
				if err := first(ctx, repos); err != nil {
					return err
				}
			}
			var err error
			p, err = repos.Payments.GetForUpdate(ctx, paymentID)
			if err != nil {
				return err
			}
			if p.IntentID == "" && intentID != "" {
				p.IntentID = intentID
			}
			completed, err = s.completeWithoutTickets(ctx, repos, p, chargeID)
			return err
		})
		if err != nil {
			return "", nil, err
		}
		if !completed {
			return OutcomeAlreadySettled, p, nil
		}
		s.refundLostInventory(ctx, paymentID)
		return OutcomeInventoryUnavailable, p, nil
	}
	if err != nil {
		return "", nil, err
	}

	if outcome == OutcomeOrphanRefunded {
		s.refundOrphan(ctx, p, intentID)
	}
	return outcome, p, nil
}

// settleFailed applies a processor failure to paymentID in one transaction
func (s *settler) settleFailed(ctx context.Context, paymentID, intentID, code, message string, first txStep) (SettleOutcome, *domain.Payment, error) {
	var (
		p        *domain.Payment
		released bool
		changed  bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if first != nil {
			if err := first(ctx, repos); err != nil {
				return err
			}
		}
		var err error
		p, err = repos.Payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.IntentID == "" && intentID != "" {
			p.IntentID = intentID
		}
		changed = p.Status.IsOpen()
		released, err = s.failure(ctx, repos, p, code, message)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	if released && s.listener != nil {
		s.listener.OnCapacityReleased(ctx, p.EventID, p.Quantity)
	}
	if !changed {
		return OutcomeIgnored, p, nil
	}
	return OutcomeFailed, p, nil
}

// refundOrphan returns a charge that succeeded after its payment had
// already failed. The payment itself stays FAILED.
func (s *settler) refundOrphan(ctx context.Context, p *domain.Payment, intentID string) {
	if intentID == "" {
		intentID = p.IntentID
	}
	if intentID == "" || s.processor == nil {
		return
	}
	err := s.caller.call(ctx, "refund", func(ctx context.Context) error {
		_, err := s.processor.Refund(ctx, &gateway.RefundRequest{
			IntentID:       intentID,
			Reason:         "payment_already_failed",
			IdempotencyKey: "orphan-" + intentID,
			Metadata:       map[string]string{"payment_id": p.ID},
		})
		return err
	})
	if err != nil {
		metrics.RecordRefund("orphan_error")
		logger.Get().ErrorContext(ctx, fmt.Sprintf("Failed to refund orphan charge %s of payment %s: %v", intentID, p.ID, err))
		return
	}
	metrics.RecordRefund("orphan")
	logger.Get().Info(fmt.Sprintf("Refunded orphan charge %s of failed payment %s", intentID, p.ID))
}

// inventoryLost reports whether a commit failed because a late settlement
// could not get its inventory back
func inventoryLost(err error) bool {
	return errors.Is(err, domain.ErrOutOfStock) ||
		errors.Is(err, domain.ErrSeatUnavailable) ||
		errors.Is(err, domain.ErrReservationReleased)
}

// success completes p, commits its reservation and issues its tickets.
// Settled payments are absorbing and a FAILED payment is never revived:
// the caller refunds the orphan charge instead. When the inventory is
// gone the error satisfies inventoryLost and the caller must roll back.
func (s *settler) success(ctx context.Context, repos repository.Repositories, p *domain.Payment, chargeID string) (SettleOutcome, error) {
	switch {
	case p.Status.IsSettled():
		return OutcomeAlreadySettled, nil
	case p.Status == domain.PaymentStatusFailed:
		return OutcomeOrphanRefunded, nil
	}

	now := s.now()
	expected := p.Status

	var seatIDs []string
	if p.ReservationID != "" {
		res, err := repos.Inventory.GetReservation(ctx, p.ReservationID)
		if err != nil {
			return "", err
		}
		seatIDs = res.SeatIDs
		lateCommit := res.Status == domain.ReservationStatusExpired

		if err := s.ledger.Commit(ctx, repos, res.ID); err != nil {
			return "", err
		}
		// the expiry gave the promo use back; take it again if still possible
		if lateCommit && p.PromoCodeID != nil {
			if err := s.promos.Redeem(ctx, repos, *p.PromoCodeID); err != nil && !errors.Is(err, domain.ErrPromoCodeExhausted) {
				return "", err
			}
		}
	}

	if p.Status == domain.PaymentStatusPending {
		if err := p.TransitionTo(domain.PaymentStatusProcessing, now); err != nil {
			return "", err
		}
	}
	if chargeID != "" {
		p.ChargeID = chargeID
	}
	if err := p.TransitionTo(domain.PaymentStatusCompleted, now); err != nil {
		return "", err
	}
	if err := repos.Payments.Update(ctx, p, expected); err != nil {
		return "", err
	}

	tickets, err := domain.NewTicketsForPayment(p, seatIDs, now)
	if err != nil {
		return "", fmt.Errorf("failed to generate tickets: %w", err)
	}
	if err := repos.Tickets.CreateBatch(ctx, tickets); err != nil {
		return "", fmt.Errorf("failed to issue tickets: %w", err)
	}
	if err := enqueue(ctx, repos, "payment", p.ID, domain.EventTicketsIssued, domain.NewTicketsIssuedEvent(p, tickets, now), now); err != nil {
		return "", err
	}

	metrics.RecordPayment(string(domain.PaymentStatusCompleted))
	metrics.RecordTicketsIssued(len(tickets))
	return OutcomeSettled, nil
}

// failure marks an open payment FAILED and releases its hold. It reports
// whether inventory went back on sale. Settled and failed payments are
// left alone.
func (s *settler) failure(ctx context.Context, repos repository.Repositories, p *domain.Payment, code, message string) (bool, error) {
	if !p.Status.IsOpen() {
		return false, nil
	}

	now := s.now()
	expected := p.Status
	p.FailureCode = code
	p.FailureMessage = message
	if err := p.TransitionTo(domain.PaymentStatusFailed, now); err != nil {
		return false, err
	}
	if err := repos.Payments.Update(ctx, p, expected); err != nil {
		return false, err
	}

	released := false
	if p.ReservationID != "" {
		var err error
		released, err = s.ledger.Release(ctx, repos, p.ReservationID)
		if err != nil {
			return false, err
		}
	}
	if released && p.PromoCodeID != nil {
		if err := s.promos.Restore(ctx, repos, *p.PromoCodeID); err != nil {
			return false, err
		}
	}

	if err := enqueue(ctx, repos, "payment", p.ID, domain.EventPaymentFailed, domain.NewPaymentFailedEvent(p, now), now); err != nil {
		return false, err
	}
	metrics.RecordPayment(string(domain.PaymentStatusFailed))
	return released, nil
}

// completeWithoutTickets settles a payment whose inventory was lost so the
// charge can be refunded through the normal refund path
func (s *settler) completeWithoutTickets(ctx context.Context, repos repository.Repositories, p *domain.Payment, chargeID string) (bool, error) {
	if !p.Status.IsOpen() {
		return false, nil
	}
	now := s.now()
	expected := p.Status
	if p.Status == domain.PaymentStatusPending {
		if err := p.TransitionTo(domain.PaymentStatusProcessing, now); err != nil {
			return false, err
		}
	}
	if chargeID != "" {
		p.ChargeID = chargeID
	}
	p.FailureCode = "INVENTORY_UNAVAILABLE"
	p.FailureMessage = "inventory was no longer available when payment settled"
	if err := p.TransitionTo(domain.PaymentStatusCompleted, now); err != nil {
		return false, err
	}
	if err := repos.Payments.Update(ctx, p, expected); err != nil {
		return false, err
	}
	metrics.RecordPayment(string(domain.PaymentStatusCompleted))
	return true, nil
}

// refundLostInventory returns the whole charge of a payment settled by
// completeWithoutTickets. A failure is logged; the payment stays COMPLETED
// with no tickets for an operator to refund.
func (s *settler) refundLostInventory(ctx context.Context, paymentID string) {
	_, err := s.refunds.Refund(ctx, &RefundRequest{
		PaymentID:  paymentID,
		Reason:     ReasonInventoryUnavailable,
		Privileged: true,
	})
	if err != nil {
		logger.Get().ErrorContext(ctx, fmt.Sprintf("Failed to refund payment %s after inventory loss: %v", paymentID, err))
		return
	}
	logger.Get().Info(fmt.Sprintf("Refunded payment %s: inventory no longer available", paymentID))
}
