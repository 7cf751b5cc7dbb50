package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WebhookResult reports what a delivery did
type WebhookResult struct {
	Outcome   SettleOutcome `json:"outcome"`
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	PaymentID string        `json:"payment_id,omitempty"`
}

// WebhookConfig contains configuration for the webhook reconciler
type WebhookConfig struct {
	Retry *retry.Config
	Now   Clock
}

// WebhookReconciler applies processor webhooks exactly once. Deliveries are
// at least once and unordered; the processed event table and the absorbing
// payment statuses make replays harmless.
type WebhookReconciler struct {
	store    repository.Store
	verifier gateway.WebhookVerifier
	refunds  *RefundCoordinator
	listener CapacityListener
	settle   *settler
	now      Clock
}

// NewWebhookReconciler creates a new reconciler. listener may be nil.
func NewWebhookReconciler(
	store repository.Store,
	verifier gateway.WebhookVerifier,
	processor gateway.Processor,
	ledger *InventoryLedger,
	promos *PromoValidator,
	refunds *RefundCoordinator,
	listener CapacityListener,
	cfg *WebhookConfig,
) *WebhookReconciler {
	if cfg == nil {
		cfg = &WebhookConfig{}
	}
	now := clockOrDefault(cfg.Now)
	return &WebhookReconciler{
		store:    store,
		verifier: verifier,
		refunds:  refunds,
		listener: listener,
		settle: &settler{
			store:     store,
			processor: processor,
			caller:    newProcessorCaller(cfg.Retry),
			ledger:    ledger,
			promos:    promos,
			refunds:   refunds,
			listener:  listener,
			now:       now,
		},
		now: now,
	}
}

// Handle verifies and applies one delivery. It returns ErrBadSignature,
// ErrMalformedWebhook, ErrUnknownCorrelation (the processor should
// redeliver later) or ErrAlreadyProcessed (acknowledge without effect).
func (r *WebhookReconciler) Handle(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.webhook.handle")
	defer span.End()

	evt, err := r.verifier.Verify(payload, signature)
	if err != nil {
		metrics.RecordWebhook("unverified", "rejected")
		span.SetStatus(codes.Error, "verification failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.event_type", evt.Type),
	)

	result := &WebhookResult{EventID: evt.ID, EventType: evt.Type}
	if evt.Kind == gateway.EventUnknown {
		result.Outcome = OutcomeIgnored
		metrics.RecordWebhook(evt.Type, string(OutcomeIgnored))
		return result, nil
	}

	paymentID, err := r.correlate(ctx, evt)
	if err != nil {
		metrics.RecordWebhook(evt.Type, "unknown_correlation")
		telemetry.RecordError(span, err)
		logger.Get().WarnContext(ctx, fmt.Sprintf("Webhook %s (%s) matches no payment", evt.ID, evt.Type))
		return nil, err
	}
	result.PaymentID = paymentID
	span.SetAttributes(attribute.String("payment_id", paymentID))

	record := func(ctx context.Context, repos repository.Repositories) error {
		inserted, err := repos.Webhooks.Record(ctx, &domain.ProcessedWebhookEvent{
			EventID:     evt.ID,
			EventType:   evt.Type,
			PaymentID:   paymentID,
			ProcessedAt: r.now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyProcessed
		}
		return nil
	}

	switch evt.Kind {
	case gateway.EventIntentSucceeded:
		result.Outcome, _, err = r.settle.settleSucceeded(ctx, paymentID, evt.IntentID, evt.ChargeID, record)
	case gateway.EventIntentFailed:
		result.Outcome, _, err = r.settle.settleFailed(ctx, paymentID, evt.IntentID, evt.FailureCode, evt.FailureMessage, record)
	case gateway.EventChargeRefunded:
		result.Outcome, err = r.reconcileRefund(ctx, paymentID, evt, record)
	}
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			metrics.RecordWebhook(evt.Type, "duplicate")
			span.AddEvent("duplicate_delivery")
			return result, err
		}
		metrics.RecordWebhook(evt.Type, "error")
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.RecordWebhook(evt.Type, string(result.Outcome))
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	logger.Get().Info(fmt.Sprintf("Webhook %s (%s) for payment %s: %s", evt.ID, evt.Type, paymentID, result.Outcome))
	return result, nil
}

// correlate finds the payment by intent id, falling back to the payment id
// in the intent metadata for a webhook that beat the PROCESSING update
func (r *WebhookReconciler) correlate(ctx context.Context, evt *gateway.Event) (string, error) {
	repos := r.store.Repos()
	if evt.IntentID != "" {
		p, err := repos.Payments.GetByIntentID(ctx, evt.IntentID)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return "", err
		}
	}
	if evt.PaymentID != "" {
		p, err := repos.Payments.GetByID(ctx, evt.PaymentID)
		if err == nil {
			if p.IntentID != "" && evt.IntentID != "" && p.IntentID != evt.IntentID {
				return "", domain.ErrUnknownCorrelation
			}
			return p.ID, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return "", err
		}
	}
	return "", domain.ErrUnknownCorrelation
}

func (r *WebhookReconciler) reconcileRefund(ctx context.Context, paymentID string, evt *gateway.Event, first txStep) (SettleOutcome, error) {
	var (
		p         *domain.Payment
		cancelled int
		applied   bool
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := first(ctx, repos); err != nil {
			return err
		}
		var err error
		p, err = repos.Payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		before := p.RefundedAmount
		cancelled, err = r.refunds.ReconcileProcessorRefund(ctx, repos, p, evt.AmountRefundedMinor, evt.RefundID)
		applied = !p.RefundedAmount.Equal(before)
		return err
	})
	if err != nil {
		return "", err
	}
	if cancelled > 0 && r.listener != nil {
		r.listener.OnCapacityReleased(ctx, p.EventID, cancelled)
	}
	if !applied {
		return OutcomeIgnored, nil
	}
	return OutcomeRefunded, nil
}
