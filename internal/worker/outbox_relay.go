package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/kafka"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
)

// Publisher is satisfied by *kafka.Producer
type Publisher interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// OutboxRelayConfig contains configuration for the outbox relay
type OutboxRelayConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to fetch in each poll
	BatchSize int
	// RetryInterval is the interval between retrying failed messages
	RetryInterval time.Duration
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// Retention is how long published messages are kept. Zero disables cleanup.
	Retention time.Duration
	// MaxAttempts caps the per-message retry budget. Zero keeps each
	// message's own MaxRetries.
	MaxAttempts int
	Now         func() time.Time
}

// DefaultOutboxRelayConfig returns default configuration
func DefaultOutboxRelayConfig() *OutboxRelayConfig {
	return &OutboxRelayConfig{
		PollInterval:    100 * time.Millisecond,
		BatchSize:       100,
		RetryInterval:   5 * time.Second,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

// OutboxRelay publishes notification events written by the services to
// Kafka. Messages that keep failing are copied to the DLQ topic.
type OutboxRelay struct {
	loop
	outbox    repository.OutboxRepository
	publisher Publisher
	dlq       retry.DLQPublisher
	config    *OutboxRelayConfig
}

// NewOutboxRelay creates a new outbox relay. dlq may be nil, in which case
// exhausted messages stay failed.
func NewOutboxRelay(outbox repository.OutboxRepository, publisher Publisher, dlq retry.DLQPublisher, config *OutboxRelayConfig) *OutboxRelay {
	if config == nil {
		config = DefaultOutboxRelayConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &OutboxRelay{
		loop:      loop{name: "outbox relay", log: logger.Get()},
		outbox:    outbox,
		publisher: publisher,
		dlq:       dlq,
		config:    config,
	}
}

// Start starts the pending poller, the failed retrier and the cleanup loop
func (r *OutboxRelay) Start(ctx context.Context) error {
	ticks := []tick{
		{interval: r.config.PollInterval, fn: func(ctx context.Context) { r.RelayPending(ctx) }},
		{interval: r.config.RetryInterval, fn: func(ctx context.Context) { r.RetryFailed(ctx) }},
	}
	if r.config.Retention > 0 {
		ticks = append(ticks, tick{interval: r.config.CleanupInterval, fn: func(ctx context.Context) { r.Cleanup(ctx) }})
	}
	return r.start(ctx, ticks...)
}

// RelayPending publishes one batch of pending messages and returns how many
// were published
func (r *OutboxRelay) RelayPending(ctx context.Context) int {
	messages, err := r.outbox.GetPending(ctx, r.config.BatchSize)
	if err != nil {
		r.log.Error(fmt.Sprintf("Failed to get pending outbox messages: %v", err))
		return 0
	}
	return r.relay(ctx, messages)
}

// RetryFailed republishes one batch of failed messages that still have
// attempts left
func (r *OutboxRelay) RetryFailed(ctx context.Context) int {
	messages, err := r.outbox.GetFailed(ctx, r.config.BatchSize)
	if err != nil {
		r.log.Error(fmt.Sprintf("Failed to get failed outbox messages: %v", err))
		return 0
	}
	return r.relay(ctx, messages)
}

func (r *OutboxRelay) relay(ctx context.Context, messages []*domain.OutboxMessage) int {
	published := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if err := r.publisher.Produce(ctx, toKafkaMessage(msg)); err != nil {
			r.fail(ctx, msg, err)
			continue
		}
		if err := r.outbox.MarkPublished(ctx, msg.ID, r.config.Now()); err != nil {
			r.log.Error(fmt.Sprintf("Failed to mark outbox message %s published: %v", msg.ID, err))
			continue
		}
		if msg.RetryCount > 0 {
			r.log.Info(fmt.Sprintf("Published outbox message %s after %d attempts", msg.ID, msg.RetryCount+1))
		}
		metrics.RecordOutbox("published")
		published++
	}
	return published
}

// fail counts the attempt and dead-letters the message on its last one
func (r *OutboxRelay) fail(ctx context.Context, msg *domain.OutboxMessage, cause error) {
	now := r.config.Now()
	attempts := msg.RetryCount + 1
	limit := msg.MaxRetries
	if r.config.MaxAttempts > 0 && r.config.MaxAttempts < limit {
		limit = r.config.MaxAttempts
	}
	r.log.Warn(fmt.Sprintf("Failed to publish outbox message %s (attempt %d/%d): %v", msg.ID, attempts, limit, cause))

	if attempts < limit || r.dlq == nil {
		if err := r.outbox.MarkFailed(ctx, msg.ID, cause.Error(), now); err != nil {
			r.log.Error(fmt.Sprintf("Failed to mark outbox message %s failed: %v", msg.ID, err))
		}
		metrics.RecordOutbox("failed")
		return
	}

	err := r.dlq.PublishToDLQ(ctx, &retry.DLQMessage{
		ID:             msg.ID,
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.PartitionKey,
		Payload:        msg.Payload,
		Headers:        msg.Headers,
		Error:          cause.Error(),
		Attempts:       attempts,
		FirstAttemptAt: msg.CreatedAt,
	})
	if err != nil {
		r.log.Error(fmt.Sprintf("Failed to dead-letter outbox message %s: %v", msg.ID, err))
		if markErr := r.outbox.MarkFailed(ctx, msg.ID, cause.Error(), now); markErr != nil {
			r.log.Error(fmt.Sprintf("Failed to mark outbox message %s failed: %v", msg.ID, markErr))
		}
		metrics.RecordOutbox("failed")
		return
	}

	if err := r.outbox.MarkDeadLettered(ctx, msg.ID, cause.Error(), now); err != nil {
		r.log.Error(fmt.Sprintf("Failed to mark outbox message %s dead-lettered: %v", msg.ID, err))
	}
	metrics.RecordOutbox("dead_lettered")
}

// Cleanup deletes published messages older than the retention
func (r *OutboxRelay) Cleanup(ctx context.Context) int64 {
	deleted, err := r.outbox.DeletePublished(ctx, r.config.Now().Add(-r.config.Retention))
	if err != nil {
		r.log.Error(fmt.Sprintf("Failed to clean up published outbox messages: %v", err))
		return 0
	}
	if deleted > 0 {
		r.log.Info(fmt.Sprintf("Cleaned up %d published outbox messages", deleted))
	}
	return deleted
}

func toKafkaMessage(msg *domain.OutboxMessage) *kafka.Message {
	headers := map[string]string{
		"event_type":     msg.EventType,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"message_id":     msg.ID,
		"content_type":   "application/json",
		"source":         "outbox-relay",
	}
	// trace context captured when the message was written
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}
	return &kafka.Message{
		Topic:     msg.Topic,
		Key:       msg.PartitionKey,
		Value:     msg.Payload,
		Headers:   headers,
		Timestamp: msg.CreatedAt,
	}
}
