package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

type postgresWaitlistRepository struct {
	q querier
}

const waitlistColumns = `
	id, event_id, ticket_type_id, user_id, email, name, phone, quantity, position, status,
	notified_at, expires_at, converted_at, created_at, updated_at`

// Create serialises joins per event with a transaction-scoped advisory lock
// so max(position)+1 is never handed out twice. Outside a transaction the
// lock is released at statement end and the unique index is the backstop.
func (r *postgresWaitlistRepository) Create(ctx context.Context, e *domain.WaitlistEntry) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "waitlist:"+e.EventID); err != nil {
		return fmt.Errorf("failed to lock waitlist: %w", err)
	}

	query := `
		INSERT INTO waitlist_entries (` + waitlistColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8,
		       COALESCE((SELECT MAX(position) FROM waitlist_entries WHERE event_id = $2), 0) + 1,
		       $9, NULL, NULL, NULL, $10, $10
		RETURNING position`

	err := r.q.QueryRow(ctx, query,
		e.ID, e.EventID, e.TicketTypeID, e.UserID, e.Email, e.Name, e.Phone, e.Quantity,
		string(e.Status), e.CreatedAt,
	).Scan(&e.Position)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyOnWaitlist
		}
		return fmt.Errorf("failed to create waitlist entry: %w", err)
	}
	return nil
}

func (r *postgresWaitlistRepository) GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	return r.getOne(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id)
}

func (r *postgresWaitlistRepository) GetByEventAndEmail(ctx context.Context, eventID, email string) (*domain.WaitlistEntry, error) {
	return r.getOne(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE event_id = $1 AND email = $2`,
		eventID, domain.NormalizeEmail(email))
}

func (r *postgresWaitlistRepository) getOne(ctx context.Context, query string, args ...any) (*domain.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWaitlistEntryNotFound
		}
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return e, nil
}

func (r *postgresWaitlistRepository) ListByEvent(ctx context.Context, eventID string, status domain.WaitlistStatus, limit, offset int) ([]*domain.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE event_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY position
		LIMIT $3 OFFSET $4`

	return r.list(ctx, query, eventID, string(status), limit, offset)
}

func (r *postgresWaitlistRepository) list(ctx context.Context, query string, args ...any) ([]*domain.WaitlistEntry, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query waitlist: %w", err)
	}
	defer rows.Close()

	entries := []*domain.WaitlistEntry{}
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan waitlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate waitlist: %w", err)
	}
	return entries, nil
}

func (r *postgresWaitlistRepository) Notify(ctx context.Context, id string, now, expiresAt time.Time) (*domain.WaitlistEntry, error) {
	query := `
		UPDATE waitlist_entries
		SET status = 'NOTIFIED', notified_at = $2, expires_at = $3, updated_at = $2
		WHERE id = $1 AND status = 'WAITING'
		RETURNING ` + waitlistColumns

	e, err := scanWaitlistEntry(r.q.QueryRow(ctx, query, id, now, expiresAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to notify waitlist entry: %w", err)
	}
	return e, nil
}

func (r *postgresWaitlistRepository) MarkConverted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE waitlist_entries
		SET status = 'CONVERTED', converted_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'NOTIFIED' AND expires_at > $2`

	result, err := r.q.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to convert waitlist entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidWaitlistPass
	}
	return nil
}

func (r *postgresWaitlistRepository) Cancel(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE waitlist_entries
		SET status = 'CANCELLED', updated_at = $2
		WHERE id = $1 AND status IN ('WAITING', 'NOTIFIED')`

	result, err := r.q.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to cancel waitlist entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrWaitlistEntryNotFound
	}
	return nil
}

func (r *postgresWaitlistRepository) ExpireNotified(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `
		UPDATE waitlist_entries
		SET status = 'EXPIRED', updated_at = $1
		WHERE id IN (
			SELECT id FROM waitlist_entries
			WHERE status = 'NOTIFIED' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`

	result, err := r.q.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to expire waitlist entries: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanWaitlistEntry(row pgx.Row) (*domain.WaitlistEntry, error) {
	e := &domain.WaitlistEntry{}
	var status string
	err := row.Scan(
		&e.ID, &e.EventID, &e.TicketTypeID, &e.UserID, &e.Email, &e.Name, &e.Phone, &e.Quantity, &e.Position,
		&status, &e.NotifiedAt, &e.ExpiresAt, &e.ConvertedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.WaitlistStatus(status)
	return e, nil
}
