package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

type postgresTicketRepository struct {
	q querier
}

const ticketColumns = `
	id, ticket_number, scan_code, barcode, event_id, ticket_type_id, seat_id, user_id,
	payment_id, price_paid, currency, status, cancelled_at, created_at, updated_at`

func (r *postgresTicketRepository) CreateBatch(ctx context.Context, tickets []*domain.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	// One multi-row INSERT keeps issuance a single round trip.
	const perRow = 15
	var sb strings.Builder
	sb.WriteString(`INSERT INTO tickets (` + ticketColumns + `) VALUES `)
	args := make([]any, 0, len(tickets)*perRow)
	for i, t := range tickets {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < perRow; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*perRow+j+1)
		}
		sb.WriteString(")")
		args = append(args,
			t.ID, t.TicketNumber, t.ScanCode, t.Barcode, t.EventID, t.TicketTypeID, t.SeatID, t.UserID,
			t.PaymentID, t.PricePaid, t.Currency, string(t.Status), t.CancelledAt, t.CreatedAt, t.UpdatedAt,
		)
	}

	if _, err := r.q.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to create tickets: %w", err)
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	t := &domain.Ticket{}
	var status string
	if err := row.Scan(
		&t.ID, &t.TicketNumber, &t.ScanCode, &t.Barcode, &t.EventID, &t.TicketTypeID, &t.SeatID, &t.UserID,
		&t.PaymentID, &t.PricePaid, &t.Currency, &status, &t.CancelledAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = domain.TicketStatus(status)
	return t, nil
}

func (r *postgresTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	t, err := scanTicket(r.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

func (r *postgresTicketRepository) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE payment_id = $1 ORDER BY created_at, ticket_number`

	rows, err := r.q.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	tickets := []*domain.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	return tickets, nil
}

func (r *postgresTicketRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.q.Exec(ctx, `
		UPDATE tickets
		SET status = 'CANCELLED', cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'ACTIVE'`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel ticket: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *postgresTicketRepository) CancelByPayment(ctx context.Context, paymentID string, limit int, now time.Time) (int, []string, error) {
	if limit <= 0 {
		return 0, nil, nil
	}
	query := `
		UPDATE tickets
		SET status = 'CANCELLED', cancelled_at = $3, updated_at = $3
		WHERE id IN (
			SELECT id FROM tickets
			WHERE payment_id = $1 AND status = 'ACTIVE'
			ORDER BY created_at, ticket_number
			LIMIT $2
			FOR UPDATE
		)
		RETURNING seat_id`

	rows, err := r.q.Query(ctx, query, paymentID, limit, now)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to cancel tickets: %w", err)
	}
	defer rows.Close()

	count := 0
	var seatIDs []string
	for rows.Next() {
		var seatID *string
		if err := rows.Scan(&seatID); err != nil {
			return 0, nil, fmt.Errorf("failed to scan cancelled ticket: %w", err)
		}
		count++
		if seatID != nil {
			seatIDs = append(seatIDs, *seatID)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate cancelled tickets: %w", err)
	}
	return count, seatIDs, nil
}
