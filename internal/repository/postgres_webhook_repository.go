package repository

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

type postgresWebhookEventRepository struct {
	q querier
}

// Record must be the first statement of a settlement transaction: a
// concurrent delivery of the same event blocks on the primary key until
// this transaction ends, then sees the conflict.
func (r *postgresWebhookEventRepository) Record(ctx context.Context, e *domain.ProcessedWebhookEvent) (bool, error) {
	query := `
		INSERT INTO processed_webhook_events (event_id, event_type, payment_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`

	result, err := r.q.Exec(ctx, query, e.EventID, e.EventType, nullString(e.PaymentID), e.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

type postgresRefundRepository struct {
	q querier
}

func (r *postgresRefundRepository) Create(ctx context.Context, ref *domain.Refund) error {
	query := `
		INSERT INTO refunds (id, payment_id, amount, reason, status, processor_refund_id, tickets_cancelled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.q.Exec(ctx, query,
		ref.ID, ref.PaymentID, ref.Amount, ref.Reason, string(ref.Status),
		ref.ProcessorRefundID, ref.TicketsCancelled, ref.CreatedAt, ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (r *postgresRefundRepository) Update(ctx context.Context, ref *domain.Refund) error {
	query := `
		UPDATE refunds
		SET status = $2, processor_refund_id = $3, tickets_cancelled = $4, updated_at = $5
		WHERE id = $1`

	result, err := r.q.Exec(ctx, query, ref.ID, string(ref.Status), ref.ProcessorRefundID, ref.TicketsCancelled, ref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRefundNotFound
	}
	return nil
}

func (r *postgresRefundRepository) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	query := `
		SELECT id, payment_id, amount, reason, status, processor_refund_id, tickets_cancelled, created_at, updated_at
		FROM refunds WHERE payment_id = $1 ORDER BY created_at, id`

	rows, err := r.q.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	refunds := []*domain.Refund{}
	for rows.Next() {
		ref := &domain.Refund{}
		var status string
		if err := rows.Scan(&ref.ID, &ref.PaymentID, &ref.Amount, &ref.Reason, &status,
			&ref.ProcessorRefundID, &ref.TicketsCancelled, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		ref.Status = domain.RefundStatus(status)
		refunds = append(refunds, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate refunds: %w", err)
	}
	return refunds, nil
}
