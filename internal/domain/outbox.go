package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"

	// OutboxStatusDeadLettered messages exhausted their retries and were
	// copied to the DLQ topic
	OutboxStatusDeadLettered OutboxStatus = "dead_lettered"
)

// DefaultOutboxMaxRetries bounds relay attempts before a message goes to the DLQ
const DefaultOutboxMaxRetries = 5

// OutboxMessage is a notification written in the same transaction as the
// state change it describes and relayed to Kafka afterwards.
type OutboxMessage struct {
	ID            string            `json:"id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	EventType     string            `json:"event_type"`
	Payload       []byte            `json:"payload"`
	Topic         string            `json:"topic"`
	PartitionKey  string            `json:"partition_key"`
	Headers       map[string]string `json:"headers,omitempty"`
	Status        OutboxStatus      `json:"status"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	LastError     string            `json:"last_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
}

// NewOutboxMessage creates a pending outbox message keyed by aggregateID
func NewOutboxMessage(aggregateType, aggregateID string, eventType EventType, payload interface{}, now time.Time) (*OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		ID:            NewID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       data,
		Topic:         eventType.Topic(),
		PartitionKey:  aggregateID,
		Status:        OutboxStatusPending,
		MaxRetries:    DefaultOutboxMaxRetries,
		CreatedAt:     now,
	}, nil
}

// CanRetry checks if the message can be retried
func (m *OutboxMessage) CanRetry() bool {
	return m.Status == OutboxStatusFailed && m.RetryCount < m.MaxRetries
}

// Exhausted reports whether the relay should give up and dead-letter
func (m *OutboxMessage) Exhausted() bool {
	return m.RetryCount >= m.MaxRetries
}

// GetPayload unmarshals the payload into v
func (m *OutboxMessage) GetPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
