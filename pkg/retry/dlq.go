package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DLQMessage is a message that exhausted its delivery attempts
type DLQMessage struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	Source         string            `json:"source"`
}

// DLQPublisher publishes failed messages to a dead letter topic
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
}

// JSONProducer is satisfied by *kafka.Producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// KafkaDLQPublisher writes every dead letter to one topic; the original
// topic travels in the headers so an operator can replay.
type KafkaDLQPublisher struct {
	producer JSONProducer
	topic    string
	source   string
}

// NewKafkaDLQPublisher creates a new Kafka DLQ publisher
func NewKafkaDLQPublisher(producer JSONProducer, topic, source string) *KafkaDLQPublisher {
	if topic == "" {
		topic = "dlq"
	}
	return &KafkaDLQPublisher{producer: producer, topic: topic, source: source}
}

// PublishToDLQ publishes a message to the dead letter topic
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       fmt.Sprintf("%d", msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	return p.producer.ProduceJSON(ctx, p.topic, msg.OriginalKey, msg, headers)
}

// Topic returns the dead letter topic
func (p *KafkaDLQPublisher) Topic() string {
	return p.topic
}
