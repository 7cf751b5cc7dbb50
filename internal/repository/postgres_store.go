package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error code for unique violation
const pgUniqueViolationCode = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every
// repository runs unchanged inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Repos returns repositories running on the pool
func (s *PostgresStore) Repos() Repositories {
	return newPostgresRepositories(s.pool)
}

// WithTx runs fn inside a READ COMMITTED transaction. Correctness relies on
// conditional updates and row locks, not on the isolation level.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, newPostgresRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func newPostgresRepositories(q querier) Repositories {
	return Repositories{
		Inventory: &postgresInventoryRepository{q: q},
		Payments:  &postgresPaymentRepository{q: q},
		Tickets:   &postgresTicketRepository{q: q},
		Promos:    &postgresPromoRepository{q: q},
		Waitlist:  &postgresWaitlistRepository{q: q},
		Webhooks:  &postgresWebhookEventRepository{q: q},
		Refunds:   &postgresRefundRepository{q: q},
		Outbox:    &postgresOutboxRepository{q: q},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}

// nullString returns nil if string is empty, otherwise returns pointer to string
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*PostgresStore)(nil)
