package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract checks the guarantees services rely on. Every Store
// implementation must pass it.
func runStoreContract(t *testing.T, store Store) {
	t.Run("IncrementSold never exceeds capacity under contention", func(t *testing.T) {
		testConcurrentIncrement(t, store)
	})
	t.Run("ReserveSeats is all or nothing", func(t *testing.T) {
		testReserveSeatsAtomic(t, store)
	})
	t.Run("WithTx rolls back on error", func(t *testing.T) {
		testRollback(t, store)
	})
	t.Run("TransitionReservation is conditional", func(t *testing.T) {
		testTransitionReservation(t, store)
	})
	t.Run("Payment update guards status", func(t *testing.T) {
		testPaymentStatusGuard(t, store)
	})
	t.Run("ReserveRefund bounds the balance", func(t *testing.T) {
		testReserveRefund(t, store)
	})
	t.Run("Promo usage cap", func(t *testing.T) {
		testPromoCap(t, store)
	})
	t.Run("Webhook events record once", func(t *testing.T) {
		testWebhookRecord(t, store)
	})
	t.Run("Waitlist positions and duplicates", func(t *testing.T) {
		testWaitlist(t, store)
	})
	t.Run("Tickets cancel in issue order", func(t *testing.T) {
		testCancelTickets(t, store)
	})
	t.Run("Single ticket cancel is conditional", func(t *testing.T) {
		testCancelTicket(t, store)
	})
	t.Run("Outbox lifecycle", func(t *testing.T) {
		testOutbox(t, store)
	})
}

var contractNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedTicketType(t *testing.T, store Store, quantity int) *domain.TicketType {
	t.Helper()
	tt := &domain.TicketType{
		ID:          domain.NewID(),
		EventID:     domain.NewID(),
		Name:        "General Admission",
		Price:       decimal.RequireFromString("50.00"),
		Currency:    "USD",
		Quantity:    quantity,
		MinPerOrder: 1,
		MaxPerOrder: 10,
		CreatedAt:   contractNow,
		UpdatedAt:   contractNow,
	}
	require.NoError(t, store.Repos().Inventory.CreateTicketType(context.Background(), tt))
	return tt
}

func seedPayment(t *testing.T, store Store, tt *domain.TicketType, status domain.PaymentStatus, total string) *domain.Payment {
	t.Helper()
	order, err := domain.NewOrderNumber(contractNow)
	require.NoError(t, err)
	p := &domain.Payment{
		ID:           domain.NewID(),
		OrderNumber:  order,
		UserID:       domain.NewID(),
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		Quantity:     2,
		Status:       status,
		Currency:     "USD",
		Subtotal:     decimal.RequireFromString(total),
		TotalAmount:  decimal.RequireFromString(total),
		Processor:    "mock",
		CreatedAt:    contractNow,
		UpdatedAt:    contractNow,
	}
	require.NoError(t, store.Repos().Payments.Create(context.Background(), p))
	return p
}

func testConcurrentIncrement(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 5)

	var wg sync.WaitGroup
	var won, lost atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
				return repos.Inventory.IncrementSold(ctx, tt.ID, 1)
			})
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), won.Load())
	assert.Equal(t, int32(15), lost.Load())

	got, err := store.Repos().Inventory.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.QuantitySold)

	err = store.Repos().Inventory.IncrementSold(ctx, domain.NewID(), 1)
	assert.ErrorIs(t, err, domain.ErrTicketTypeNotFound)
}

func testReserveSeatsAtomic(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 3)
	seats := []*domain.Seat{
		{ID: domain.NewID(), EventID: tt.EventID, TicketTypeID: tt.ID, Section: "A", Row: "1", Number: "1", Status: domain.SeatStatusAvailable},
		{ID: domain.NewID(), EventID: tt.EventID, TicketTypeID: tt.ID, Section: "A", Row: "1", Number: "2", Status: domain.SeatStatusAvailable},
	}
	repos := store.Repos()
	require.NoError(t, repos.Inventory.CreateSeats(ctx, seats))

	first := domain.NewID()
	err := store.WithTx(ctx, func(ctx context.Context, r Repositories) error {
		return r.Inventory.ReserveSeats(ctx, tt.ID, first, []string{seats[0].ID}, contractNow.Add(time.Minute))
	})
	require.NoError(t, err)

	// Second seat is free but the first is taken, so nothing may change.
	err = store.WithTx(ctx, func(ctx context.Context, r Repositories) error {
		return r.Inventory.ReserveSeats(ctx, tt.ID, domain.NewID(), []string{seats[0].ID, seats[1].ID}, contractNow.Add(time.Minute))
	})
	assert.ErrorIs(t, err, domain.ErrSeatUnavailable)

	got, err := repos.Inventory.GetSeats(ctx, []string{seats[1].ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeatStatusAvailable, got[0].Status)

	require.NoError(t, repos.Inventory.MarkSeatsSold(ctx, first, []string{seats[0].ID}))
	n, err := repos.Inventory.ReleaseSoldSeats(ctx, []string{seats[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testRollback(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 10)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		if err := repos.Inventory.IncrementSold(ctx, tt.ID, 4); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Repos().Inventory.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.QuantitySold)
}

func testTransitionReservation(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 10)
	p := seedPayment(t, store, tt, domain.PaymentStatusPending, "100.00")
	res := &domain.Reservation{
		ID:           domain.NewID(),
		PaymentID:    p.ID,
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		Quantity:     2,
		Status:       domain.ReservationStatusHeld,
		ExpiresAt:    contractNow.Add(-time.Minute),
		CreatedAt:    contractNow.Add(-16 * time.Minute),
		UpdatedAt:    contractNow.Add(-16 * time.Minute),
	}
	repos := store.Repos()
	require.NoError(t, repos.Inventory.CreateReservation(ctx, res))

	expired, err := repos.Inventory.ListExpiredReservations(ctx, tt.ID, contractNow, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, res.ID, expired[0].ID)

	ok, err := repos.Inventory.TransitionReservation(ctx, res.ID, domain.ReservationStatusHeld, domain.ReservationStatusExpired, contractNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Inventory.TransitionReservation(ctx, res.ID, domain.ReservationStatusHeld, domain.ReservationStatusReleased, contractNow)
	require.NoError(t, err)
	assert.False(t, ok, "second transition from HELD must not apply")

	_, err = repos.Inventory.TransitionReservation(ctx, res.ID, domain.ReservationStatusCommitted, domain.ReservationStatusReleased, contractNow)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func testPaymentStatusGuard(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 10)
	p := seedPayment(t, store, tt, domain.PaymentStatusProcessing, "100.00")
	repos := store.Repos()

	p.IntentID = "pi_" + p.ID
	require.NoError(t, p.TransitionTo(domain.PaymentStatusCompleted, contractNow))
	require.NoError(t, repos.Payments.Update(ctx, p, domain.PaymentStatusProcessing))

	stale := *p
	stale.Status = domain.PaymentStatusFailed
	err := repos.Payments.Update(ctx, &stale, domain.PaymentStatusProcessing)
	assert.ErrorIs(t, err, domain.ErrPaymentStatusConflict)

	got, err := repos.Payments.GetByIntentID(ctx, p.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)

	_, err = repos.Payments.GetByID(ctx, domain.NewID())
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func testReserveRefund(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 10)
	repos := store.Repos()

	pending := seedPayment(t, store, tt, domain.PaymentStatusProcessing, "100.00")
	err := repos.Payments.ReserveRefund(ctx, pending.ID, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)

	p := seedPayment(t, store, tt, domain.PaymentStatusCompleted, "100.00")
	require.NoError(t, repos.Payments.ReserveRefund(ctx, p.ID, decimal.NewFromInt(60)))
	err = repos.Payments.ReserveRefund(ctx, p.ID, decimal.NewFromInt(41))
	assert.ErrorIs(t, err, domain.ErrRefundExceedsBalance)
	require.NoError(t, repos.Payments.ReserveRefund(ctx, p.ID, decimal.NewFromInt(40)))

	require.NoError(t, repos.Payments.ReleasePendingRefund(ctx, p.ID, decimal.NewFromInt(40)))
	got, err := repos.Payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.PendingRefundAmount.Equal(decimal.NewFromInt(60)), "pending = %s", got.PendingRefundAmount)
}

func testPromoCap(t *testing.T, store Store) {
	ctx := context.Background()
	maxUses := 2
	promo := &domain.PromoCode{
		ID:            domain.NewID(),
		Code:          "save" + domain.NewID()[:8],
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(20),
		MaxDiscount:   decimal.NewNullDecimal(decimal.NewFromInt(15)),
		MaxUses:       &maxUses,
		ValidFrom:     contractNow.Add(-time.Hour),
		ValidUntil:    contractNow.Add(time.Hour),
		IsActive:      true,
		CreatedAt:     contractNow,
		UpdatedAt:     contractNow,
	}
	repos := store.Repos()
	require.NoError(t, repos.Promos.Create(ctx, promo))

	got, err := repos.Promos.GetByCode(ctx, promo.Code)
	require.NoError(t, err)
	assert.Equal(t, promo.ID, got.ID)
	assert.True(t, got.MaxDiscount.Valid)

	var wg sync.WaitGroup
	var redeemed atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repos.Promos.IncrementUsage(ctx, promo.ID); err == nil {
				redeemed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), redeemed.Load())

	require.NoError(t, repos.Promos.DecrementUsage(ctx, promo.ID))
	require.NoError(t, repos.Promos.IncrementUsage(ctx, promo.ID))
	assert.ErrorIs(t, repos.Promos.IncrementUsage(ctx, promo.ID), domain.ErrPromoCodeExhausted)

	_, err = repos.Promos.GetByCode(ctx, "missing-"+domain.NewID())
	assert.ErrorIs(t, err, domain.ErrPromoCodeNotFound)
}

func testWebhookRecord(t *testing.T, store Store) {
	ctx := context.Background()
	evt := &domain.ProcessedWebhookEvent{EventID: "evt_" + domain.NewID(), EventType: "payment_intent.succeeded", ProcessedAt: contractNow}

	inserted, err := store.Repos().Webhooks.Record(ctx, evt)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Repos().Webhooks.Record(ctx, evt)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func testWaitlist(t *testing.T, store Store) {
	ctx := context.Background()
	eventID := domain.NewID()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
				return repos.Waitlist.Create(ctx, &domain.WaitlistEntry{
					ID:        domain.NewID(),
					EventID:   eventID,
					Email:     domain.NormalizeEmail(string(rune('a'+i)) + "@example.com"),
					Quantity:  1,
					Status:    domain.WaitlistStatusWaiting,
					CreatedAt: contractNow,
				})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	repos := store.Repos()
	entries, err := repos.Waitlist.ListByEvent(ctx, eventID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
	}

	err = store.WithTx(ctx, func(ctx context.Context, r Repositories) error {
		return r.Waitlist.Create(ctx, &domain.WaitlistEntry{
			ID: domain.NewID(), EventID: eventID, Email: "a@example.com", Quantity: 1,
			Status: domain.WaitlistStatusWaiting, CreatedAt: contractNow,
		})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyOnWaitlist)

	first := entries[0]
	notified, err := repos.Waitlist.Notify(ctx, first.ID, contractNow, contractNow.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, notified)
	assert.Equal(t, domain.WaitlistStatusNotified, notified.Status)

	again, err := repos.Waitlist.Notify(ctx, first.ID, contractNow, contractNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, repos.Waitlist.MarkConverted(ctx, first.ID, contractNow.Add(time.Minute)))
	assert.ErrorIs(t, repos.Waitlist.MarkConverted(ctx, first.ID, contractNow.Add(time.Minute)), domain.ErrInvalidWaitlistPass)

	second := entries[1]
	_, err = repos.Waitlist.Notify(ctx, second.ID, contractNow, contractNow.Add(time.Hour))
	require.NoError(t, err)
	n, err := repos.Waitlist.ExpireNotified(ctx, contractNow.Add(2*time.Hour), 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := repos.Waitlist.GetByEventAndEmail(ctx, eventID, "B@Example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistStatusExpired, got.Status)

	require.NoError(t, repos.Waitlist.Cancel(ctx, entries[2].ID, contractNow))
	assert.ErrorIs(t, repos.Waitlist.Cancel(ctx, entries[2].ID, contractNow), domain.ErrWaitlistEntryNotFound)
}

func testCancelTickets(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 10)
	p := seedPayment(t, store, tt, domain.PaymentStatusCompleted, "100.00")
	p.Quantity = 3

	tickets, err := domain.NewTicketsForPayment(p, nil, contractNow)
	require.NoError(t, err)
	repos := store.Repos()
	require.NoError(t, repos.Tickets.CreateBatch(ctx, tickets))

	n, _, err := repos.Tickets.CancelByPayment(ctx, p.ID, 2, contractNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, _, err = repos.Tickets.CancelByPayment(ctx, p.ID, 5, contractNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	listed, err := repos.Tickets.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for _, tk := range listed {
		assert.Equal(t, domain.TicketStatusCancelled, tk.Status)
	}
}

func testCancelTicket(t *testing.T, store Store) {
	ctx := context.Background()
	tt := seedTicketType(t, store, 10)
	p := seedPayment(t, store, tt, domain.PaymentStatusCompleted, "50.00")
	p.Quantity = 2

	tickets, err := domain.NewTicketsForPayment(p, nil, contractNow)
	require.NoError(t, err)
	repos := store.Repos()
	require.NoError(t, repos.Tickets.CreateBatch(ctx, tickets))

	got, err := repos.Tickets.GetByID(ctx, tickets[1].ID)
	require.NoError(t, err)
	assert.Equal(t, tickets[1].TicketNumber, got.TicketNumber)
	assert.Equal(t, domain.TicketStatusActive, got.Status)

	ok, err := repos.Tickets.Cancel(ctx, tickets[1].ID, contractNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Tickets.Cancel(ctx, tickets[1].ID, contractNow)
	require.NoError(t, err)
	assert.False(t, ok, "already cancelled")

	got, err = repos.Tickets.GetByID(ctx, tickets[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)

	// the batch cancel only sees what is still active
	n, _, err := repos.Tickets.CancelByPayment(ctx, p.ID, 5, contractNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repos.Tickets.GetByID(ctx, domain.NewID())
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	_, err = repos.Tickets.Cancel(ctx, domain.NewID(), contractNow)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func testOutbox(t *testing.T, store Store) {
	ctx := context.Background()
	p := &domain.Payment{ID: domain.NewID(), OrderNumber: "ORD-X"}
	msg, err := domain.NewOutboxMessage("payment", p.ID, domain.EventPaymentFailed, domain.NewPaymentFailedEvent(p, contractNow), contractNow)
	require.NoError(t, err)
	msg.Headers = map[string]string{"traceparent": "00-abc-def-01"}

	err = store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Outbox.Create(ctx, msg)
	})
	require.NoError(t, err)

	var pending []*domain.OutboxMessage
	err = store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		pending, err = repos.Outbox.GetPending(ctx, 1000)
		return err
	})
	require.NoError(t, err)
	var found *domain.OutboxMessage
	for _, m := range pending {
		if m.ID == msg.ID {
			found = m
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "00-abc-def-01", found.Headers["traceparent"])

	repos := store.Repos()
	require.NoError(t, repos.Outbox.MarkFailed(ctx, msg.ID, "broker down", contractNow))
	require.NoError(t, repos.Outbox.MarkPublished(ctx, msg.ID, contractNow))
	deleted, err := repos.Outbox.DeletePublished(ctx, contractNow.Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))
}
