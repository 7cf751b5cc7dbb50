package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/pricing"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FailureProcessorUnavailable is stored on payments whose intent could not be opened
const FailureProcessorUnavailable = "PROCESSOR_UNAVAILABLE"

// PurchaseRequest is a buyer's intent to purchase
type PurchaseRequest struct {
	UserID       string
	EventID      string
	TicketTypeID string
	Quantity     int
	SeatIDs      []string
	PromoCode    string
	BillingEmail string
	BillingName  string
	// WaitlistPass is the signed pass from a waitlist notification
	WaitlistPass string
}

// PurchaseResult is an opened payment and the secret the client pays with
type PurchaseResult struct {
	Payment      *domain.Payment
	Reservation  *domain.Reservation
	ClientSecret string
	Breakdown    pricing.Breakdown
}

// PaymentConfig contains configuration for the payment coordinator
type PaymentConfig struct {
	Currency string
	// ReclaimBatch bounds the expired holds reclaimed when a reserve runs
	// out of stock
	ReclaimBatch int
	Retry        *retry.Config
	Now          Clock
}

// PaymentIntentCoordinator turns a purchase request into a PENDING payment
// holding inventory and an open processor intent
type PaymentIntentCoordinator struct {
	store      repository.Store
	processor  gateway.Processor
	calculator *pricing.Calculator
	promos     *PromoValidator
	ledger     *InventoryLedger
	waitlist   *WaitlistManager
	caller     processorCaller
	settle     *settler
	currency   string
	reclaim    int
	now        Clock
}

// NewPaymentIntentCoordinator creates a new coordinator. waitlist may be nil
// when waitlist passes are not accepted.
func NewPaymentIntentCoordinator(
	store repository.Store,
	processor gateway.Processor,
	calculator *pricing.Calculator,
	promos *PromoValidator,
	ledger *InventoryLedger,
	refunds *RefundCoordinator,
	waitlist *WaitlistManager,
	cfg *PaymentConfig,
) *PaymentIntentCoordinator {
	if cfg == nil {
		cfg = &PaymentConfig{}
	}
	currency := strings.ToUpper(cfg.Currency)
	if currency == "" {
		currency = "USD"
	}
	reclaim := cfg.ReclaimBatch
	if reclaim <= 0 {
		reclaim = 50
	}
	now := clockOrDefault(cfg.Now)
	caller := newProcessorCaller(cfg.Retry)

	var listener CapacityListener
	if waitlist != nil {
		listener = waitlist
	}

	return &PaymentIntentCoordinator{
		store:      store,
		processor:  processor,
		calculator: calculator,
		promos:     promos,
		ledger:     ledger,
		waitlist:   waitlist,
		caller:     caller,
		settle: &settler{
			store:     store,
			processor: processor,
			caller:    caller,
			ledger:    ledger,
			promos:    promos,
			refunds:   refunds,
			listener:  listener,
			now:       now,
		},
		currency: currency,
		reclaim:  reclaim,
		now:      now,
	}
}

// Quote prices a purchase without reserving anything
func (c *PaymentIntentCoordinator) Quote(ctx context.Context, ticketTypeID string, quantity int, promoCode string) (pricing.Breakdown, error) {
	tt, err := c.store.Repos().Inventory.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	if err := tt.ValidateQuantity(quantity); err != nil {
		return pricing.Breakdown{}, err
	}
	subtotal := tt.Price.Mul(decimal.NewFromInt(int64(quantity)))
	discount, err := c.promos.Validate(ctx, promoCode, subtotal, c.now())
	if err != nil {
		return pricing.Breakdown{}, err
	}
	return c.calculator.Calculate(pricing.Input{UnitPrice: tt.Price, Quantity: quantity, Discount: discount}), nil
}

// Open reserves inventory for req and opens a processor intent for it.
// Reservation always happens before the intent exists, so a buyer is never
// charged for inventory that was not held.
func (c *PaymentIntentCoordinator) Open(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.open")
	defer span.End()

	if err := validatePurchase(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("event_id", req.EventID),
		attribute.String("ticket_type_id", req.TicketTypeID),
		attribute.Int("quantity", req.Quantity),
	)

	now := c.now()
	tt, err := c.store.Repos().Inventory.GetTicketType(ctx, req.TicketTypeID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if tt.EventID != req.EventID {
		span.SetStatus(codes.Error, "event mismatch")
		return nil, domain.ErrEventMismatch
	}
	if !tt.SalesOpen(now) {
		span.SetStatus(codes.Error, "sales closed")
		return nil, domain.ErrSalesClosed
	}
	if err := tt.ValidateQuantity(req.Quantity); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	subtotal := tt.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
	discount, err := c.promos.Validate(ctx, req.PromoCode, subtotal, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	breakdown := c.calculator.Calculate(pricing.Input{UnitPrice: tt.Price, Quantity: req.Quantity, Discount: discount})

	var waitlistEntryID string
	if req.WaitlistPass != "" {
		if c.waitlist == nil {
			return nil, domain.ErrInvalidWaitlistPass
		}
		entry, err := c.waitlist.ValidatePass(ctx, req.WaitlistPass, req.EventID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		waitlistEntryID = entry.ID
	}

	p, err := c.newPayment(req, tt, discount, waitlistEntryID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	breakdown.Apply(p)

	var res *domain.Reservation
	create := func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Payments.Create(ctx, p); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		if p.PromoCodeID != nil {
			if err := c.promos.Redeem(ctx, repos, *p.PromoCodeID); err != nil {
				return err
			}
		}
		var err error
		res, err = c.ledger.Reserve(ctx, repos, &ReserveRequest{
			ReservationID: p.ReservationID,
			PaymentID:     p.ID,
			EventID:       p.EventID,
			TicketTypeID:  p.TicketTypeID,
			Quantity:      p.Quantity,
			SeatIDs:       req.SeatIDs,
		})
		if err != nil {
			return err
		}
		if p.WaitlistEntryID != nil {
			if err := repos.Waitlist.MarkConverted(ctx, *p.WaitlistEntryID, c.now()); err != nil {
				return err
			}
		}
		return nil
	}

	err = c.store.WithTx(ctx, create)
	if errors.Is(err, domain.ErrOutOfStock) {
		// stock may still be tied up in holds nobody swept yet
		if n, rerr := c.ledger.ReclaimExpired(ctx, tt.ID, c.reclaim); rerr == nil && n > 0 {
			span.AddEvent("reclaimed_expired_holds")
			err = c.store.WithTx(ctx, create)
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("payment_id", p.ID), attribute.String("reservation_id", res.ID))

	result := &PurchaseResult{Payment: p, Reservation: res, Breakdown: breakdown}

	if p.TotalAmount.IsZero() {
		_, settled, err := c.settle.settleSucceeded(ctx, p.ID, "", "", nil)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		result.Payment = settled
		logger.Get().Info(fmt.Sprintf("Settled free order %s without the processor", p.OrderNumber))
		return result, nil
	}

	var intent *gateway.Intent
	err = c.caller.call(ctx, "open_intent", func(ctx context.Context) error {
		var err error
		intent, err = c.processor.OpenIntent(ctx, &gateway.IntentRequest{
			PaymentID:      p.ID,
			OrderNumber:    p.OrderNumber,
			AmountMinor:    p.AmountMinor(),
			Currency:       p.Currency,
			Description:    fmt.Sprintf("%d x %s", p.Quantity, tt.Name),
			Email:          p.BillingEmail,
			IdempotencyKey: "intent-" + p.ID,
			Metadata: map[string]string{
				"event_id":       p.EventID,
				"ticket_type_id": p.TicketTypeID,
				"user_id":        p.UserID,
			},
		})
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Get().ErrorContext(ctx, fmt.Sprintf("Failed to open intent for payment %s: %v", p.ID, err))
		if _, _, ferr := c.settle.settleFailed(ctx, p.ID, "", FailureProcessorUnavailable, err.Error(), nil); ferr != nil {
			logger.Get().ErrorContext(ctx, fmt.Sprintf("Failed to compensate payment %s: %v", p.ID, ferr))
		}
		if !errors.Is(err, domain.ErrProcessorUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
		}
		return nil, err
	}

	err = c.store.WithTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Payments.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.PaymentStatusPending {
			// an early webhook already moved it on
			p = current
			return nil
		}
		current.IntentID = intent.ID
		if err := current.TransitionTo(domain.PaymentStatusProcessing, c.now()); err != nil {
			return err
		}
		if err := repos.Payments.Update(ctx, current, domain.PaymentStatusPending); err != nil {
			return err
		}
		p = current
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.RecordPayment(string(domain.PaymentStatusProcessing))
	result.Payment = p
	result.ClientSecret = intent.ClientSecret
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func validatePurchase(req *PurchaseRequest) error {
	if req == nil {
		return domain.ErrInvalidQuantity
	}
	if strings.TrimSpace(req.UserID) == "" {
		return domain.ErrInvalidUserID
	}
	if strings.TrimSpace(req.EventID) == "" {
		return domain.ErrInvalidEventID
	}
	if req.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if len(req.SeatIDs) > 0 && len(req.SeatIDs) != req.Quantity {
		return domain.ErrSeatCountMismatch
	}
	if req.BillingEmail != "" && !domain.ValidEmail(domain.NormalizeEmail(req.BillingEmail)) {
		return domain.ErrInvalidEmail
	}
	return nil
}

func (c *PaymentIntentCoordinator) newPayment(req *PurchaseRequest, tt *domain.TicketType, discount *pricing.Discount, waitlistEntryID string) (*domain.Payment, error) {
	now := c.now()
	orderNumber, err := domain.NewOrderNumber(now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate order number: %w", err)
	}
	currency := strings.ToUpper(tt.Currency)
	if currency == "" {
		currency = c.currency
	}

	p := &domain.Payment{
		ID:            domain.NewID(),
		OrderNumber:   orderNumber,
		UserID:        req.UserID,
		EventID:       req.EventID,
		TicketTypeID:  tt.ID,
		Quantity:      req.Quantity,
		ReservationID: domain.NewID(),
		Status:        domain.PaymentStatusPending,
		Currency:      currency,
		BillingEmail:  domain.NormalizeEmail(req.BillingEmail),
		BillingName:   strings.TrimSpace(req.BillingName),
		Processor:     c.processor.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if discount != nil {
		id := discount.PromoCodeID
		p.PromoCodeID = &id
		p.PromoCode = discount.Code
	}
	if waitlistEntryID != "" {
		p.WaitlistEntryID = &waitlistEntryID
	}
	return p, nil
}

// Confirm settles a payment from the client side once the buyer completed
// the intent, for when the webhook is late. COMPLETED payments are
// returned unchanged.
func (c *PaymentIntentCoordinator) Confirm(ctx context.Context, intentID, requesterID string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("intent_id", intentID))

	p, err := c.store.Repos().Payments.GetByIntentID(ctx, intentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if p.UserID != requesterID {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrPaymentAccessForbidden
	}
	if p.Status.IsSettled() {
		return p, nil
	}
	if p.Status == domain.PaymentStatusFailed {
		return nil, domain.ErrPaymentNotSucceeded
	}

	var intent *gateway.Intent
	err = c.caller.call(ctx, "retrieve_intent", func(ctx context.Context) error {
		var err error
		intent, err = c.processor.RetrieveIntent(ctx, intentID)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	switch intent.Status {
	case gateway.IntentSucceeded:
	case gateway.IntentFailed, gateway.IntentCanceled:
		code := intent.FailureCode
		if code == "" {
			code = string(intent.Status)
		}
		if _, _, err := c.settle.settleFailed(ctx, p.ID, intentID, code, intent.FailureMessage, nil); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		return nil, domain.ErrPaymentNotSucceeded
	default:
		return nil, domain.ErrPaymentNotSucceeded
	}

	outcome, settled, err := c.settle.settleSucceeded(ctx, p.ID, intentID, intent.ChargeID, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if outcome == OutcomeOrphanRefunded {
		return nil, domain.ErrPaymentNotSucceeded
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return settled, nil
}

// Get returns a payment its owner may see
func (c *PaymentIntentCoordinator) Get(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error) {
	p, err := c.store.Repos().Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != requesterID {
		return nil, domain.ErrPaymentAccessForbidden
	}
	return p, nil
}

// Tickets returns the tickets issued for a payment its owner may see
func (c *PaymentIntentCoordinator) Tickets(ctx context.Context, paymentID, requesterID string) ([]*domain.Ticket, error) {
	if _, err := c.Get(ctx, paymentID, requesterID); err != nil {
		return nil, err
	}
	return c.store.Repos().Tickets.ListByPayment(ctx, paymentID)
}

// ListForUser returns a user's payments, newest first
func (c *PaymentIntentCoordinator) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return c.store.Repos().Payments.ListByUser(ctx, userID, limit, offset)
}
