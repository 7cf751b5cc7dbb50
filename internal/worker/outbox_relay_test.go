package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/kafka"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
)

type fakePublisher struct {
	mu       sync.Mutex
	failWith error
	sent     []*kafka.Message
}

func (p *fakePublisher) Produce(ctx context.Context, msg *kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.sent = append(p.sent, msg)
	return nil
}

type fakeDLQ struct {
	failWith error
	messages []*retry.DLQMessage
}

func (d *fakeDLQ) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	if d.failWith != nil {
		return d.failWith
	}
	d.messages = append(d.messages, msg)
	return nil
}

func newOutboxMessage(t *testing.T, outbox repository.OutboxRepository, maxRetries int) *domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewOutboxMessage("payment", "pay-1", domain.EventTicketsIssued, map[string]string{"payment_id": "pay-1"}, time.Now())
	if err != nil {
		t.Fatalf("NewOutboxMessage() error = %v", err)
	}
	msg.MaxRetries = maxRetries
	msg.Headers = map[string]string{"traceparent": "00-abc-def-01"}
	if err := outbox.Create(context.Background(), msg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return msg
}

func TestDefaultOutboxRelayConfig(t *testing.T) {
	config := DefaultOutboxRelayConfig()

	if config.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want %v", config.PollInterval, 100*time.Millisecond)
	}
	if config.BatchSize != 100 {
		t.Errorf("BatchSize = %v, want %v", config.BatchSize, 100)
	}
	if config.Retention != 7*24*time.Hour {
		t.Errorf("Retention = %v, want %v", config.Retention, 7*24*time.Hour)
	}
}

func TestOutboxRelay_RelayPending(t *testing.T) {
	outbox := repository.NewMemoryStore().Repos().Outbox
	msg := newOutboxMessage(t, outbox, 5)
	pub := &fakePublisher{}
	relay := NewOutboxRelay(outbox, pub, nil, nil)

	if n := relay.RelayPending(context.Background()); n != 1 {
		t.Fatalf("RelayPending() = %d, want 1", n)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(pub.sent))
	}

	sent := pub.sent[0]
	if sent.Topic != "ticketing.tickets-issued" {
		t.Errorf("Topic = %q", sent.Topic)
	}
	if sent.Key != "pay-1" {
		t.Errorf("Key = %q, want pay-1", sent.Key)
	}
	if sent.Headers["event_type"] != "tickets.issued" || sent.Headers["message_id"] != msg.ID {
		t.Errorf("Headers = %v", sent.Headers)
	}
	if sent.Headers["traceparent"] != "00-abc-def-01" {
		t.Errorf("trace context not propagated: %v", sent.Headers)
	}

	pending, _ := outbox.GetPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("pending = %d after relay, want 0", len(pending))
	}
	if n := relay.RelayPending(context.Background()); n != 0 {
		t.Errorf("second RelayPending() = %d, want 0", n)
	}
}

func TestOutboxRelay_FailureThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryStore().Repos().Outbox
	msg := newOutboxMessage(t, outbox, 2)
	pub := &fakePublisher{failWith: errors.New("broker down")}
	dlq := &fakeDLQ{}
	relay := NewOutboxRelay(outbox, pub, dlq, nil)

	relay.RelayPending(ctx)
	failed, _ := outbox.GetFailed(ctx, 10)
	if len(failed) != 1 || failed[0].RetryCount != 1 {
		t.Fatalf("after first attempt failed = %+v", failed)
	}
	if failed[0].LastError != "broker down" {
		t.Errorf("LastError = %q", failed[0].LastError)
	}

	relay.RetryFailed(ctx)
	if len(dlq.messages) != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", len(dlq.messages))
	}
	dead := dlq.messages[0]
	if dead.ID != msg.ID || dead.OriginalTopic != msg.Topic || dead.Attempts != 2 {
		t.Errorf("DLQ message = %+v", dead)
	}

	failed, _ = outbox.GetFailed(ctx, 10)
	if len(failed) != 0 {
		t.Errorf("dead-lettered message still retried: %+v", failed)
	}
}

func TestOutboxRelay_MaxAttemptsCapsBudget(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryStore().Repos().Outbox
	newOutboxMessage(t, outbox, 5)
	dlq := &fakeDLQ{}
	relay := NewOutboxRelay(outbox, &fakePublisher{failWith: errors.New("down")}, dlq, &OutboxRelayConfig{
		BatchSize:   10,
		MaxAttempts: 1,
	})

	relay.RelayPending(ctx)
	if len(dlq.messages) != 1 || dlq.messages[0].Attempts != 1 {
		t.Errorf("DLQ messages = %+v, want one after a single attempt", dlq.messages)
	}
}

func TestOutboxRelay_RecoversOnRetry(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryStore().Repos().Outbox
	newOutboxMessage(t, outbox, 5)
	pub := &fakePublisher{failWith: errors.New("timeout")}
	relay := NewOutboxRelay(outbox, pub, &fakeDLQ{}, nil)

	relay.RelayPending(ctx)
	pub.failWith = nil

	if n := relay.RetryFailed(ctx); n != 1 {
		t.Fatalf("RetryFailed() = %d, want 1", n)
	}
	failed, _ := outbox.GetFailed(ctx, 10)
	if len(failed) != 0 {
		t.Errorf("failed = %d after successful retry", len(failed))
	}
}

func TestOutboxRelay_DLQFailureKeepsMessageFailed(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryStore().Repos().Outbox
	newOutboxMessage(t, outbox, 1)
	relay := NewOutboxRelay(outbox, &fakePublisher{failWith: errors.New("down")}, &fakeDLQ{failWith: errors.New("dlq down")}, nil)

	relay.RelayPending(ctx)

	pending, _ := outbox.GetPending(ctx, 10)
	failed, _ := outbox.GetFailed(ctx, 10)
	if len(pending) != 0 || len(failed) != 0 {
		t.Errorf("pending = %d, retryable = %d; want the message parked as failed", len(pending), len(failed))
	}
}

func TestOutboxRelay_Cleanup(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryStore().Repos().Outbox
	msg := newOutboxMessage(t, outbox, 5)

	now := time.Now()
	relay := NewOutboxRelay(outbox, &fakePublisher{}, nil, &OutboxRelayConfig{
		Retention: time.Hour,
		Now:       func() time.Time { return now },
	})
	if err := outbox.MarkPublished(ctx, msg.ID, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("MarkPublished() error = %v", err)
	}

	if n := relay.Cleanup(ctx); n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
}

func TestOutboxRelay_StartStop(t *testing.T) {
	outbox := repository.NewMemoryStore().Repos().Outbox
	newOutboxMessage(t, outbox, 5)
	pub := &fakePublisher{}
	relay := NewOutboxRelay(outbox, pub, nil, &OutboxRelayConfig{
		PollInterval:  5 * time.Millisecond,
		RetryInterval: 5 * time.Millisecond,
	})

	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := relay.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.sent)
		pub.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	relay.Stop()

	if relay.IsRunning() {
		t.Error("relay still running after Stop")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(pub.sent))
	}
}
