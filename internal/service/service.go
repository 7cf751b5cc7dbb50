// Package service holds the purchase, settlement, refund and waitlist flows.
// Services keep no locks of their own: every mutation runs inside a
// repository.Store transaction and relies on guarded updates.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
)

// CapacityListener is told when inventory goes back on sale. It is only
// called after the releasing transaction has committed.
type CapacityListener interface {
	OnCapacityReleased(ctx context.Context, eventID string, quantity int)
}

// Clock returns the current time
type Clock func() time.Time

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// enqueue writes a notification to the outbox of the current transaction,
// carrying the trace context so the relay can continue the trace.
func enqueue(ctx context.Context, repos repository.Repositories, aggregateType, aggregateID string, eventType domain.EventType, payload interface{}, now time.Time) error {
	msg, err := domain.NewOutboxMessage(aggregateType, aggregateID, eventType, payload, now)
	if err != nil {
		return fmt.Errorf("failed to build %s message: %w", eventType, err)
	}
	msg.Headers = telemetry.InjectMap(ctx)
	if err := repos.Outbox.Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", eventType, err)
	}
	return nil
}

// ProcessorRetryConfig returns the backoff used for processor calls
func ProcessorRetryConfig(maxRetries int, initial time.Duration) *retry.Config {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	return &retry.Config{
		MaxRetries:      maxRetries,
		InitialInterval: initial,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// processorCaller retries transient processor failures and stops at the
// first decline
type processorCaller struct {
	retrier *retry.Retrier
}

func newProcessorCaller(cfg *retry.Config) processorCaller {
	if cfg == nil {
		cfg = ProcessorRetryConfig(3, 0)
	}
	return processorCaller{retrier: retry.New(cfg)}
}

// call returns nil, the processor's own error for declines, or
// domain.ErrProcessorUnavailable once the retries are spent
func (c processorCaller) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	result := c.retrier.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		metrics.ObserveProcessorCall(operation, err, time.Since(start))
		if err != nil && !gateway.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})

	switch {
	case result.Err == nil:
		return nil
	case errors.Is(result.Err, retry.ErrMaxRetriesExceeded):
		return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrProcessorUnavailable, operation, result.Attempts, result.LastError)
	case errors.Is(result.Err, retry.ErrContextCanceled):
		return fmt.Errorf("%w: %s: %v", domain.ErrProcessorUnavailable, operation, ctx.Err())
	default:
		return result.Err
	}
}
