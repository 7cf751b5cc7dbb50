package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/pricing"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "whsec_service_test"
	testPassSecret    = "waitlist-pass-test-secret"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *repository.MemoryStore
	clock     *fakeClock
	processor *gateway.MockProcessor

	promos   *PromoValidator
	ledger   *InventoryLedger
	refunds  *RefundCoordinator
	waitlist *WaitlistManager
	payments *PaymentIntentCoordinator
	webhooks *WebhookReconciler

	eventSeq int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	clock := &fakeClock{now: testStart}
	processor := gateway.NewMockProcessor(&gateway.MockProcessorConfig{AutoConfirm: false})
	fast := &retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

	waitlist := NewWaitlistManager(store, &WaitlistConfig{AutoNotify: true, PassSecret: testPassSecret, Now: clock.Now})
	promos := NewPromoValidator(store)
	ledger := NewInventoryLedger(store, promos, waitlist, &LedgerConfig{HoldWindow: 15 * time.Minute, Now: clock.Now})
	refunds := NewRefundCoordinator(store, processor, ledger, waitlist, &RefundConfig{Retry: fast, Now: clock.Now})
	payments := NewPaymentIntentCoordinator(store, processor, pricing.NewCalculator(pricing.DefaultRates()),
		promos, ledger, refunds, waitlist, &PaymentConfig{Currency: "USD", Retry: fast, Now: clock.Now})
	webhooks := NewWebhookReconciler(store, gateway.NewStripeWebhookVerifier(testWebhookSecret, 0),
		processor, ledger, promos, refunds, waitlist, &WebhookConfig{Retry: fast, Now: clock.Now})

	return &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		clock:     clock,
		processor: processor,
		promos:    promos,
		ledger:    ledger,
		refunds:   refunds,
		waitlist:  waitlist,
		payments:  payments,
		webhooks:  webhooks,
	}
}

func (f *fixture) repos() repository.Repositories {
	return f.store.Repos()
}

func (f *fixture) seedTicketType(quantity int, price string) *domain.TicketType {
	f.t.Helper()
	tt := &domain.TicketType{
		ID:          domain.NewID(),
		EventID:     domain.NewID(),
		Name:        "General Admission",
		Price:       decimal.RequireFromString(price),
		Currency:    "USD",
		Quantity:    quantity,
		MinPerOrder: 1,
		MaxPerOrder: 10,
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
	require.NoError(f.t, f.repos().Inventory.CreateTicketType(f.ctx, tt))
	return tt
}

func (f *fixture) seedSeats(tt *domain.TicketType, n int) []string {
	f.t.Helper()
	seats := make([]*domain.Seat, n)
	ids := make([]string, n)
	for i := range seats {
		ids[i] = domain.NewID()
		seats[i] = &domain.Seat{
			ID:           ids[i],
			EventID:      tt.EventID,
			TicketTypeID: tt.ID,
			Section:      "A",
			Row:          "1",
			Number:       fmt.Sprint(i + 1),
			Status:       domain.SeatStatusAvailable,
		}
	}
	require.NoError(f.t, f.repos().Inventory.CreateSeats(f.ctx, seats))
	return ids
}

func (f *fixture) seedPromo(code string, kind domain.DiscountType, value, maxDiscount string, maxUses *int) *domain.PromoCode {
	f.t.Helper()
	p := &domain.PromoCode{
		ID:            domain.NewID(),
		Code:          code,
		DiscountType:  kind,
		DiscountValue: decimal.RequireFromString(value),
		MaxUses:       maxUses,
		ValidFrom:     testStart.Add(-24 * time.Hour),
		ValidUntil:    testStart.Add(30 * 24 * time.Hour),
		IsActive:      true,
		CreatedAt:     testStart,
		UpdatedAt:     testStart,
	}
	if maxDiscount != "" {
		p.MaxDiscount = decimal.NewNullDecimal(decimal.RequireFromString(maxDiscount))
	}
	require.NoError(f.t, f.repos().Promos.Create(f.ctx, p))
	return p
}

func (f *fixture) purchaseRequest(tt *domain.TicketType, qty int) *PurchaseRequest {
	return &PurchaseRequest{
		UserID:       domain.NewID(),
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		Quantity:     qty,
		BillingEmail: "Buyer@Example.com",
		BillingName:  "Test Buyer",
	}
}

func (f *fixture) purchase(tt *domain.TicketType, qty int) *domain.Payment {
	f.t.Helper()
	result, err := f.payments.Open(f.ctx, f.purchaseRequest(tt, qty))
	require.NoError(f.t, err)
	return result.Payment
}

func (f *fixture) payment(id string) *domain.Payment {
	f.t.Helper()
	p, err := f.repos().Payments.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) ticketType(id string) *domain.TicketType {
	f.t.Helper()
	tt, err := f.repos().Inventory.GetTicketType(f.ctx, id)
	require.NoError(f.t, err)
	return tt
}

func (f *fixture) tickets(paymentID string) []*domain.Ticket {
	f.t.Helper()
	tickets, err := f.repos().Tickets.ListByPayment(f.ctx, paymentID)
	require.NoError(f.t, err)
	return tickets
}

func (f *fixture) activeTickets(paymentID string) int {
	n := 0
	for _, t := range f.tickets(paymentID) {
		if t.Status == domain.TicketStatusActive {
			n++
		}
	}
	return n
}

func (f *fixture) reservation(id string) *domain.Reservation {
	f.t.Helper()
	res, err := f.repos().Inventory.GetReservation(f.ctx, id)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) outboxEvents(eventType domain.EventType) []*domain.OutboxMessage {
	f.t.Helper()
	pending, err := f.repos().Outbox.GetPending(f.ctx, 1000)
	require.NoError(f.t, err)
	var out []*domain.OutboxMessage
	for _, m := range pending {
		if m.EventType == string(eventType) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fixture) nextEventID() string {
	f.eventSeq++
	return fmt.Sprintf("evt_test_%d", f.eventSeq)
}

// deliver signs and handles a webhook
func (f *fixture) deliver(eventID, eventType string, object map[string]interface{}) (*WebhookResult, error) {
	f.t.Helper()
	payload, err := gateway.EncodeEvent(eventID, eventType, object)
	require.NoError(f.t, err)
	return f.webhooks.Handle(f.ctx, payload, gateway.SignPayload(payload, testWebhookSecret, time.Now()))
}

func intentObject(p *domain.Payment, status string) map[string]interface{} {
	return map[string]interface{}{
		"id":       p.IntentID,
		"object":   "payment_intent",
		"amount":   p.AmountMinor(),
		"currency": "usd",
		"status":   status,
		"metadata": map[string]string{"payment_id": p.ID},
	}
}

// succeed marks the intent paid at the processor and delivers the webhook
func (f *fixture) succeed(p *domain.Payment) (*WebhookResult, error) {
	f.t.Helper()
	require.NoError(f.t, f.processor.SetIntentStatus(p.IntentID, gateway.IntentSucceeded))
	obj := intentObject(p, "succeeded")
	obj["latest_charge"] = "ch_" + p.ID[:8]
	return f.deliver(f.nextEventID(), "payment_intent.succeeded", obj)
}

func (f *fixture) fail(p *domain.Payment) (*WebhookResult, error) {
	f.t.Helper()
	obj := intentObject(p, "requires_payment_method")
	obj["last_payment_error"] = map[string]string{"code": "card_declined", "message": "Your card was declined."}
	return f.deliver(f.nextEventID(), "payment_intent.payment_failed", obj)
}

// settled opens and settles a purchase
func (f *fixture) settled(tt *domain.TicketType, qty int) *domain.Payment {
	f.t.Helper()
	p := f.purchase(tt, qty)
	res, err := f.succeed(p)
	require.NoError(f.t, err)
	require.Equal(f.t, OutcomeSettled, res.Outcome)
	return f.payment(p.ID)
}

func intPtr(n int) *int { return &n }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
