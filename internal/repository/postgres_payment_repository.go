package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/shopspring/decimal"
)

type postgresPaymentRepository struct {
	q querier
}

// paymentColumns defines the columns to select for payment queries
const paymentColumns = `
	id, order_number, user_id, event_id, ticket_type_id, quantity, reservation_id, status, currency,
	subtotal, discount, tax_amount, service_fee, processor_fee, platform_commission,
	platform_commission_pct, organizer_payout, total_amount, refunded_amount, pending_refund_amount,
	promo_code_id, promo_code, waitlist_entry_id, billing_email, billing_name,
	processor, intent_id, charge_id, failure_code, failure_message, refund_reason,
	completed_at, failed_at, refunded_at, created_at, updated_at`

func (r *postgresPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36
		)`

	_, err := r.q.Exec(ctx, query,
		p.ID, p.OrderNumber, p.UserID, p.EventID, p.TicketTypeID, p.Quantity,
		nullString(p.ReservationID), string(p.Status), p.Currency,
		p.Subtotal, p.Discount, p.TaxAmount, p.ServiceFee, p.ProcessorFee, p.PlatformCommission,
		p.PlatformCommissionPct, p.OrganizerPayout, p.TotalAmount, p.RefundedAmount, p.PendingRefundAmount,
		p.PromoCodeID, p.PromoCode, p.WaitlistEntryID, p.BillingEmail, p.BillingName,
		p.Processor, nullString(p.IntentID), p.ChargeID, p.FailureCode, p.FailureMessage, p.RefundReason,
		p.CompletedAt, p.FailedAt, p.RefundedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate payment %s", domain.ErrPaymentStatusConflict, p.ID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *postgresPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *postgresPaymentRepository) GetForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresPaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE intent_id = $1`, intentID)
}

func (r *postgresPaymentRepository) getOne(ctx context.Context, query string, arg string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *postgresPaymentRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []*domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

// Update writes the mutable columns. The status guard makes concurrent
// settlements of the same payment lose instead of overwrite.
func (r *postgresPaymentRepository) Update(ctx context.Context, p *domain.Payment, expected domain.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $3,
		    reservation_id = $4,
		    processor_fee = $5,
		    organizer_payout = $6,
		    refunded_amount = $7,
		    pending_refund_amount = $8,
		    intent_id = $9,
		    charge_id = $10,
		    failure_code = $11,
		    failure_message = $12,
		    refund_reason = $13,
		    completed_at = $14,
		    failed_at = $15,
		    refunded_at = $16,
		    updated_at = $17
		WHERE id = $1 AND status = $2`

	result, err := r.q.Exec(ctx, query,
		p.ID, string(expected), string(p.Status), nullString(p.ReservationID),
		p.ProcessorFee, p.OrganizerPayout, p.RefundedAmount, p.PendingRefundAmount,
		nullString(p.IntentID), p.ChargeID, p.FailureCode, p.FailureMessage, p.RefundReason,
		p.CompletedAt, p.FailedAt, p.RefundedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: payment %s is no longer %s", domain.ErrPaymentStatusConflict, p.ID, expected)
	}
	return nil
}

func (r *postgresPaymentRepository) ReserveRefund(ctx context.Context, id string, amount decimal.Decimal) error {
	query := `
		UPDATE payments
		SET pending_refund_amount = pending_refund_amount + $2, updated_at = NOW()
		WHERE id = $1
		  AND status IN ('COMPLETED', 'PARTIALLY_REFUNDED')
		  AND refunded_amount + pending_refund_amount + $2 <= total_amount`

	result, err := r.q.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("failed to reserve refund: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.IsRefundable() {
		return domain.ErrPaymentNotRefundable
	}
	return domain.ErrRefundExceedsBalance
}

func (r *postgresPaymentRepository) ReleasePendingRefund(ctx context.Context, id string, amount decimal.Decimal) error {
	query := `
		UPDATE payments
		SET pending_refund_amount = GREATEST(pending_refund_amount - $2, 0), updated_at = NOW()
		WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("failed to release pending refund: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	var (
		status        string
		reservationID *string
		intentID      *string
	)
	err := row.Scan(
		&p.ID, &p.OrderNumber, &p.UserID, &p.EventID, &p.TicketTypeID, &p.Quantity, &reservationID, &status, &p.Currency,
		&p.Subtotal, &p.Discount, &p.TaxAmount, &p.ServiceFee, &p.ProcessorFee, &p.PlatformCommission,
		&p.PlatformCommissionPct, &p.OrganizerPayout, &p.TotalAmount, &p.RefundedAmount, &p.PendingRefundAmount,
		&p.PromoCodeID, &p.PromoCode, &p.WaitlistEntryID, &p.BillingEmail, &p.BillingName,
		&p.Processor, &intentID, &p.ChargeID, &p.FailureCode, &p.FailureMessage, &p.RefundReason,
		&p.CompletedAt, &p.FailedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	p.ReservationID = derefString(reservationID)
	p.IntentID = derefString(intentID)
	return p, nil
}
