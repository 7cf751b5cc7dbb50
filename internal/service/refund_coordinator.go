package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/pricing"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReasonProcessorInitiated marks refunds discovered through a webhook
const ReasonProcessorInitiated = "processor_initiated"

// RefundRequest asks to return money for a payment. A nil Amount refunds
// the remaining balance.
type RefundRequest struct {
	PaymentID   string
	Amount      *decimal.Decimal
	Reason      string
	RequesterID string
	// Privileged skips the ownership check (organizers, admins, system)
	Privileged bool
}

// RefundResult is the payment after the refund settled
type RefundResult struct {
	Payment      *domain.Payment
	Refund       *domain.Refund
	RefundAmount decimal.Decimal
}

// RefundConfig contains configuration for the refund coordinator
type RefundConfig struct {
	Retry *retry.Config
	Now   Clock
}

// RefundCoordinator returns money in two phases around the processor call:
// the amount is reserved as pending first so concurrent refunds can never
// exceed the balance, then applied once the processor accepted it.
type RefundCoordinator struct {
	store     repository.Store
	processor gateway.Processor
	ledger    *InventoryLedger
	listener  CapacityListener
	caller    processorCaller
	now       Clock
}

// NewRefundCoordinator creates a new refund coordinator. listener may be nil.
func NewRefundCoordinator(store repository.Store, processor gateway.Processor, ledger *InventoryLedger, listener CapacityListener, cfg *RefundConfig) *RefundCoordinator {
	if cfg == nil {
		cfg = &RefundConfig{}
	}
	return &RefundCoordinator{
		store:     store,
		processor: processor,
		ledger:    ledger,
		listener:  listener,
		caller:    newProcessorCaller(cfg.Retry),
		now:       clockOrDefault(cfg.Now),
	}
}

// Refund refunds req.Amount of a COMPLETED or PARTIALLY_REFUNDED payment
func (c *RefundCoordinator) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.refund.refund")
	defer span.End()

	if req == nil || req.PaymentID == "" {
		span.SetStatus(codes.Error, "payment id required")
		return nil, domain.ErrPaymentNotFound
	}
	if req.Amount != nil && (!req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2))) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, domain.ErrInvalidAmount
	}
	span.SetAttributes(attribute.String("payment_id", req.PaymentID))

	var (
		p      *domain.Payment
		refund *domain.Refund
		amount decimal.Decimal
	)
	err := c.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		p, err = repos.Payments.GetForUpdate(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if !req.Privileged && p.UserID != req.RequesterID {
			return domain.ErrPaymentAccessForbidden
		}
		if !p.Status.IsRefundable() {
			return domain.ErrPaymentNotRefundable
		}

		balance := p.RefundableBalance()
		amount = balance
		if req.Amount != nil {
			amount = *req.Amount
		}
		if !amount.IsPositive() || amount.GreaterThan(balance) {
			return fmt.Errorf("%w: requested %s, refundable %s", domain.ErrRefundExceedsBalance, amount.StringFixed(2), balance.StringFixed(2))
		}

		if err := repos.Payments.ReserveRefund(ctx, p.ID, amount); err != nil {
			return err
		}
		now := c.now()
		refund = &domain.Refund{
			ID:        domain.NewID(),
			PaymentID: p.ID,
			Amount:    amount,
			Reason:    req.Reason,
			Status:    domain.RefundStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return repos.Refunds.Create(ctx, refund)
	})
	if err != nil {
		metrics.RecordRefund("rejected")
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("refund_id", refund.ID), attribute.String("amount", amount.StringFixed(2)))

	if p.IntentID != "" {
		var result *gateway.RefundResult
		err = c.caller.call(ctx, "refund", func(ctx context.Context) error {
			var err error
			result, err = c.processor.Refund(ctx, &gateway.RefundRequest{
				IntentID:       p.IntentID,
				AmountMinor:    domain.ToMinor(amount),
				Reason:         req.Reason,
				IdempotencyKey: "refund-" + refund.ID,
				Metadata:       map[string]string{"payment_id": p.ID, "refund_id": refund.ID},
			})
			return err
		})
		if err != nil {
			c.abandon(ctx, refund)
			metrics.RecordRefund("processor_error")
			telemetry.RecordError(span, err)
			if !errors.Is(err, domain.ErrProcessorUnavailable) {
				err = fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
			}
			return nil, err
		}
		refund.ProcessorRefundID = result.ID
	}

	var cancelled int
	err = c.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		p, err = repos.Payments.GetForUpdate(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		cancelled, err = c.apply(ctx, repos, p, amount, amount, refund)
		if err != nil {
			return err
		}
		return repos.Refunds.Update(ctx, refund)
	})
	if err != nil {
		// The processor has the money back; the pending amount stays reserved
		// so the balance can't be refunded twice before someone reconciles.
		metrics.RecordRefund("apply_error")
		telemetry.RecordError(span, err)
		logger.Get().ErrorContext(ctx, fmt.Sprintf("Refund %s accepted by processor but not applied: %v", refund.ID, err))
		return nil, fmt.Errorf("failed to apply refund: %w", err)
	}

	metrics.RecordRefund("succeeded")
	c.capacityReleased(ctx, p.EventID, cancelled)
	logger.Get().Info(fmt.Sprintf("Refunded %s %s of payment %s, %d tickets cancelled",
		amount.StringFixed(2), p.Currency, p.ID, cancelled))

	return &RefundResult{Payment: p, Refund: refund, RefundAmount: amount}, nil
}

// abandon marks a refund FAILED and frees its pending amount
func (c *RefundCoordinator) abandon(ctx context.Context, refund *domain.Refund) {
	err := c.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Payments.ReleasePendingRefund(ctx, refund.PaymentID, refund.Amount); err != nil {
			return err
		}
		refund.Status = domain.RefundStatusFailed
		refund.UpdatedAt = c.now()
		return repos.Refunds.Update(ctx, refund)
	})
	if err != nil {
		logger.Get().ErrorContext(ctx, fmt.Sprintf("Failed to abandon refund %s: %v", refund.ID, err))
	}
}

// ReconcileProcessorRefund applies a refund the processor reports with a
// cumulative refunded amount. Only the part not already refunded or in
// flight is applied, so refunds made through Refund never count twice.
// It returns the number of tickets cancelled.
func (c *RefundCoordinator) ReconcileProcessorRefund(ctx context.Context, repos repository.Repositories, p *domain.Payment, cumulativeMinor int64, externalRefundID string) (int, error) {
	if !p.Status.IsRefundable() {
		return 0, nil
	}
	delta := domain.FromMinor(cumulativeMinor).Sub(p.RefundedAmount).Sub(p.PendingRefundAmount)
	if !delta.IsPositive() {
		return 0, nil
	}
	delta = decimal.Min(delta, p.RefundableBalance())

	now := c.now()
	refund := &domain.Refund{
		ID:                domain.NewID(),
		PaymentID:         p.ID,
		Amount:            delta,
		Reason:            ReasonProcessorInitiated,
		Status:            domain.RefundStatusSucceeded,
		ProcessorRefundID: externalRefundID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	cancelled, err := c.apply(ctx, repos, p, delta, decimal.Zero, refund)
	if err != nil {
		return 0, err
	}
	if err := repos.Refunds.Create(ctx, refund); err != nil {
		return 0, err
	}
	metrics.RecordRefund("reconciled")
	return cancelled, nil
}

// apply books amount as refunded on a locked payment, of which
// fromPending had been reserved by ReserveRefund. Tickets are cancelled
// cumulatively: after refunding r of a payment of n tickets totalling T,
// floor(r*n/T) tickets are cancelled in total, all of them on a full refund.
func (c *RefundCoordinator) apply(ctx context.Context, repos repository.Repositories, p *domain.Payment, amount, fromPending decimal.Decimal, refund *domain.Refund) (int, error) {
	now := c.now()
	expected := p.Status

	p.RefundedAmount = p.RefundedAmount.Add(amount)
	p.PendingRefundAmount = decimal.Max(decimal.Zero, p.PendingRefundAmount.Sub(fromPending))

	next := domain.PaymentStatusPartiallyRefunded
	if !p.RefundedAmount.LessThan(p.TotalAmount) {
		next = domain.PaymentStatusRefunded
	}
	if err := p.TransitionTo(next, now); err != nil {
		return 0, err
	}
	if refund.Reason != "" {
		p.RefundReason = refund.Reason
	}
	p.OrganizerPayout = pricing.Payout(p)

	target := p.Quantity
	if next != domain.PaymentStatusRefunded {
		target = p.TicketsCoveredBy(p.RefundedAmount)
	}

	tickets, err := repos.Tickets.ListByPayment(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	alreadyCancelled := 0
	for _, t := range tickets {
		if t.Status == domain.TicketStatusCancelled {
			alreadyCancelled++
		}
	}

	cancelled := 0
	if toCancel := target - alreadyCancelled; toCancel > 0 {
		n, seatIDs, err := repos.Tickets.CancelByPayment(ctx, p.ID, toCancel, now)
		if err != nil {
			return 0, err
		}
		if err := c.ledger.ReturnSold(ctx, repos, p.TicketTypeID, seatIDs, n); err != nil {
			return 0, err
		}
		cancelled = n
	}

	if err := repos.Payments.Update(ctx, p, expected); err != nil {
		return 0, err
	}

	refund.Status = domain.RefundStatusSucceeded
	refund.TicketsCancelled = cancelled
	refund.UpdatedAt = now

	if err := enqueue(ctx, repos, "payment", p.ID, domain.EventPaymentRefunded, domain.NewPaymentRefundedEvent(p, amount, cancelled, now), now); err != nil {
		return 0, err
	}
	metrics.RecordPayment(string(next))
	return cancelled, nil
}

// ListForPayment returns a payment's refunds, oldest first
func (c *RefundCoordinator) ListForPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	return c.store.Repos().Refunds.ListByPayment(ctx, paymentID)
}

func (c *RefundCoordinator) capacityReleased(ctx context.Context, eventID string, n int) {
	if n > 0 && c.listener != nil {
		c.listener.OnCapacityReleased(ctx, eventID, n)
	}
}
