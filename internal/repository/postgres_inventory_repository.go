package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

type postgresInventoryRepository struct {
	q querier
}

func (r *postgresInventoryRepository) CreateTicketType(ctx context.Context, tt *domain.TicketType) error {
	query := `
		INSERT INTO ticket_types (
			id, event_id, name, price, currency, quantity, quantity_sold,
			min_per_order, max_per_order, sales_start, sales_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		tt.ID, tt.EventID, tt.Name, tt.Price, tt.Currency, tt.Quantity, tt.QuantitySold,
		tt.MinPerOrder, tt.MaxPerOrder, tt.SalesStart, tt.SalesEnd, tt.CreatedAt, tt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket type: %w", err)
	}
	return nil
}

func (r *postgresInventoryRepository) GetTicketType(ctx context.Context, id string) (*domain.TicketType, error) {
	query := `
		SELECT id, event_id, name, price, currency, quantity, quantity_sold,
		       min_per_order, max_per_order, sales_start, sales_end, created_at, updated_at
		FROM ticket_types WHERE id = $1`

	tt := &domain.TicketType{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&tt.ID, &tt.EventID, &tt.Name, &tt.Price, &tt.Currency, &tt.Quantity, &tt.QuantitySold,
		&tt.MinPerOrder, &tt.MaxPerOrder, &tt.SalesStart, &tt.SalesEnd, &tt.CreatedAt, &tt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("failed to get ticket type: %w", err)
	}
	return tt, nil
}

func (r *postgresInventoryRepository) IncrementSold(ctx context.Context, ticketTypeID string, n int) error {
	query := `
		UPDATE ticket_types
		SET quantity_sold = quantity_sold + $2, updated_at = NOW()
		WHERE id = $1 AND quantity_sold + $2 <= quantity`

	result, err := r.q.Exec(ctx, query, ticketTypeID, n)
	if err != nil {
		return fmt.Errorf("failed to increment sold count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOr(ctx, ticketTypeID, domain.ErrOutOfStock)
	}
	return nil
}

func (r *postgresInventoryRepository) DecrementSold(ctx context.Context, ticketTypeID string, n int) error {
	query := `
		UPDATE ticket_types
		SET quantity_sold = quantity_sold - $2, updated_at = NOW()
		WHERE id = $1 AND quantity_sold >= $2`

	result, err := r.q.Exec(ctx, query, ticketTypeID, n)
	if err != nil {
		return fmt.Errorf("failed to decrement sold count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOr(ctx, ticketTypeID, domain.ErrInsufficientSoldCount)
	}
	return nil
}

// missingOr tells a missing ticket type apart from a failed guard
func (r *postgresInventoryRepository) missingOr(ctx context.Context, ticketTypeID string, guardErr error) error {
	var exists bool
	err := r.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM ticket_types WHERE id = $1)", ticketTypeID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check ticket type existence: %w", err)
	}
	if !exists {
		return domain.ErrTicketTypeNotFound
	}
	return guardErr
}

func (r *postgresInventoryRepository) CreateSeats(ctx context.Context, seats []*domain.Seat) error {
	batch := &pgx.Batch{}
	for _, s := range seats {
		batch.Queue(`
			INSERT INTO seats (id, event_id, ticket_type_id, section, row_label, number, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ID, s.EventID, s.TicketTypeID, s.Section, s.Row, s.Number, string(s.Status),
		)
	}
	return r.sendBatch(ctx, batch, "failed to create seats")
}

func (r *postgresInventoryRepository) sendBatch(ctx context.Context, batch *pgx.Batch, msg string) error {
	sender, ok := r.q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return fmt.Errorf("%s: querier cannot send batches", msg)
	}
	if err := sender.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}

func (r *postgresInventoryRepository) GetSeats(ctx context.Context, ids []string) ([]*domain.Seat, error) {
	query := `
		SELECT id, event_id, ticket_type_id, section, row_label, number, status, reservation_id, held_until
		FROM seats WHERE id = ANY($1) ORDER BY id`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	defer rows.Close()

	var seats []*domain.Seat
	for rows.Next() {
		s := &domain.Seat{}
		var status string
		if err := rows.Scan(&s.ID, &s.EventID, &s.TicketTypeID, &s.Section, &s.Row, &s.Number,
			&status, &s.ReservationID, &s.HeldUntil); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		s.Status = domain.SeatStatus(status)
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seats: %w", err)
	}
	return seats, nil
}

func (r *postgresInventoryRepository) ReserveSeats(ctx context.Context, ticketTypeID, reservationID string, ids []string, heldUntil time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE seats
		SET status = 'RESERVED', reservation_id = $3, held_until = $4, updated_at = NOW()
		WHERE id = ANY($1) AND ticket_type_id = $2 AND status = 'AVAILABLE'`

	result, err := r.q.Exec(ctx, query, ids, ticketTypeID, reservationID, heldUntil)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	// The caller's transaction rolls back the partial update.
	if result.RowsAffected() != int64(len(ids)) {
		return domain.ErrSeatUnavailable
	}
	return nil
}

func (r *postgresInventoryRepository) MarkSeatsSold(ctx context.Context, reservationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE seats
		SET status = 'SOLD', held_until = NULL, updated_at = NOW()
		WHERE id = ANY($1) AND reservation_id = $2 AND status = 'RESERVED'`

	result, err := r.q.Exec(ctx, query, ids, reservationID)
	if err != nil {
		return fmt.Errorf("failed to mark seats sold: %w", err)
	}
	if result.RowsAffected() != int64(len(ids)) {
		return domain.ErrSeatUnavailable
	}
	return nil
}

func (r *postgresInventoryRepository) ReleaseSeats(ctx context.Context, reservationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE seats
		SET status = 'AVAILABLE', reservation_id = NULL, held_until = NULL, updated_at = NOW()
		WHERE id = ANY($1) AND reservation_id = $2 AND status = 'RESERVED'`

	if _, err := r.q.Exec(ctx, query, ids, reservationID); err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	return nil
}

func (r *postgresInventoryRepository) ReleaseSoldSeats(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE seats
		SET status = 'AVAILABLE', reservation_id = NULL, held_until = NULL, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'SOLD'`

	result, err := r.q.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to release sold seats: %w", err)
	}
	return result.RowsAffected(), nil
}

const reservationColumns = `
	id, payment_id, event_id, ticket_type_id, quantity, seat_ids, status, expires_at, created_at, updated_at`

func (r *postgresInventoryRepository) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	query := `INSERT INTO reservations (` + reservationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	seatIDs := res.SeatIDs
	if seatIDs == nil {
		seatIDs = []string{}
	}
	_, err := r.q.Exec(ctx, query,
		res.ID, res.PaymentID, res.EventID, res.TicketTypeID, res.Quantity, seatIDs,
		string(res.Status), res.ExpiresAt, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (r *postgresInventoryRepository) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

func (r *postgresInventoryRepository) TransitionReservation(ctx context.Context, id string, from, to domain.ReservationStatus, now time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: reservation %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	query := `UPDATE reservations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	result, err := r.q.Exec(ctx, query, id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *postgresInventoryRepository) ListExpiredReservations(ctx context.Context, ticketTypeID string, now time.Time, limit int) ([]*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'HELD' AND expires_at <= $1 AND ($2 = '' OR ticket_type_id = $2)
		ORDER BY expires_at ASC
		LIMIT $3`

	rows, err := r.q.Query(ctx, query, now, ticketTypeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return out, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var status string
	err := row.Scan(&res.ID, &res.PaymentID, &res.EventID, &res.TicketTypeID, &res.Quantity,
		&res.SeatIDs, &status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}
