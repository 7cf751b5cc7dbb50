package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

var errOutboxMessageNotFound = errors.New("outbox message not found")

type postgresOutboxRepository struct {
	q querier
}

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type, payload, topic, partition_key, headers,
	status, retry_count, max_retries, last_error, created_at, processed_at, published_at`

func (r *postgresOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = domain.NewID()
	}
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox headers: %w", err)
	}
	if msg.Headers == nil {
		headers = []byte("{}")
	}

	query := `
		INSERT INTO outbox (
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, headers, status,
			retry_count, max_retries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.q.Exec(ctx, query,
		msg.ID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		headers,
		string(msg.Status),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// GetPending locks the returned rows so parallel relays split the work.
// Call it inside a transaction.
func (r *postgresOutboxRepository) GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	return r.list(ctx, query, limit)
}

func (r *postgresOutboxRepository) GetFailed(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE status = 'failed' AND retry_count < max_retries
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	return r.list(ctx, query, limit)
}

func (r *postgresOutboxRepository) list(ctx context.Context, query string, limit int) ([]*domain.OutboxMessage, error) {
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox messages: %w", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

func (r *postgresOutboxRepository) MarkPublished(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE outbox SET status = 'published', processed_at = $2, published_at = $2 WHERE id = $1`
	return r.exec(ctx, "failed to mark message as published", query, id, now)
}

func (r *postgresOutboxRepository) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	query := `
		UPDATE outbox SET
			status = 'failed',
			last_error = $2,
			retry_count = retry_count + 1,
			processed_at = $3
		WHERE id = $1`
	return r.exec(ctx, "failed to mark message as failed", query, id, errMsg, now)
}

func (r *postgresOutboxRepository) MarkDeadLettered(ctx context.Context, id, errMsg string, now time.Time) error {
	query := `UPDATE outbox SET status = 'dead_lettered', last_error = $2, processed_at = $3 WHERE id = $1`
	return r.exec(ctx, "failed to mark message as dead lettered", query, id, errMsg, now)
}

func (r *postgresOutboxRepository) exec(ctx context.Context, msg, query string, args ...any) error {
	result, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if result.RowsAffected() == 0 {
		return errOutboxMessageNotFound
	}
	return nil
}

func (r *postgresOutboxRepository) DeletePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM outbox WHERE status = 'published' AND published_at < $1`

	result, err := r.q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

// scanOutboxMessages scans rows into OutboxMessage slice
func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	var messages []*domain.OutboxMessage

	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var (
			status  string
			headers []byte
		)

		err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&headers,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.ProcessedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}

		msg.Status = domain.OutboxStatus(status)
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &msg.Headers); err != nil {
				return nil, fmt.Errorf("failed to decode outbox headers: %w", err)
			}
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	return messages, nil
}
