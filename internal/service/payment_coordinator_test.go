package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentIntentCoordinator_Open(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	seats := f.seedSeats(tt, 2)

	req := f.purchaseRequest(tt, 2)
	req.SeatIDs = seats
	result, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)

	p := result.Payment
	assert.Equal(t, domain.PaymentStatusProcessing, p.Status)
	assert.NotEmpty(t, p.IntentID)
	assert.NotEmpty(t, result.ClientSecret)
	assert.Regexp(t, `^ORD-[0-9A-Z]+-[0-9A-Z]{6}$`, p.OrderNumber)
	assert.Equal(t, "buyer@example.com", p.BillingEmail)
	assert.Equal(t, "mock", p.Processor)

	// 100.00 + 2.9% + 0.30 processor fee, 5% commission
	assert.Equal(t, "100.00", result.Breakdown.TotalAmount.StringFixed(2))
	assert.Equal(t, "3.20", p.ProcessorFee.StringFixed(2))
	assert.Equal(t, "5.00", p.PlatformCommission.StringFixed(2))
	assert.Equal(t, "91.80", p.OrganizerPayout.StringFixed(2))

	stored := f.payment(p.ID)
	assert.Equal(t, domain.PaymentStatusProcessing, stored.Status)
	assert.Equal(t, p.IntentID, stored.IntentID)

	res := f.reservation(p.ReservationID)
	assert.Equal(t, domain.ReservationStatusHeld, res.Status)
	assert.Equal(t, seats, res.SeatIDs)
	assert.Equal(t, 2, f.ticketType(tt.ID).QuantitySold)
	assert.Empty(t, f.tickets(p.ID), "tickets are issued on settlement only")
}

func TestPaymentIntentCoordinator_Open_Rejections(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")

	closed := f.seedTicketType(10, "50.00")
	closed.ID = domain.NewID()
	start := testStart.Add(time.Hour)
	closed.SalesStart = &start
	require.NoError(t, f.repos().Inventory.CreateTicketType(f.ctx, closed))

	tests := []struct {
		name    string
		mutate  func(r *PurchaseRequest)
		wantErr error
	}{
		{"missing user", func(r *PurchaseRequest) { r.UserID = "" }, domain.ErrInvalidUserID},
		{"missing event", func(r *PurchaseRequest) { r.EventID = "" }, domain.ErrInvalidEventID},
		{"zero quantity", func(r *PurchaseRequest) { r.Quantity = 0 }, domain.ErrInvalidQuantity},
		{"bad email", func(r *PurchaseRequest) { r.BillingEmail = "nope" }, domain.ErrInvalidEmail},
		{"event mismatch", func(r *PurchaseRequest) { r.EventID = domain.NewID() }, domain.ErrEventMismatch},
		{"order limit", func(r *PurchaseRequest) { r.Quantity = 11 }, domain.ErrOrderLimitExceeded},
		{"unknown ticket type", func(r *PurchaseRequest) { r.TicketTypeID = "missing" }, domain.ErrTicketTypeNotFound},
		{"sales not open", func(r *PurchaseRequest) { r.TicketTypeID = closed.ID; r.EventID = closed.EventID }, domain.ErrSalesClosed},
		{"forged waitlist pass", func(r *PurchaseRequest) { r.WaitlistPass = "not-a-token" }, domain.ErrInvalidWaitlistPass},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := f.purchaseRequest(tt, 1)
			tc.mutate(req)
			_, err := f.payments.Open(f.ctx, req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Equal(t, 0, f.ticketType(tt.ID).QuantitySold)
}

func TestPaymentIntentCoordinator_CapacityOneRace(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(1, "80.00")

	var wg sync.WaitGroup
	var won, soldOut atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.payments.Open(f.ctx, f.purchaseRequest(tt, 1))
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				soldOut.Add(1)
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(7), soldOut.Load())
	assert.Equal(t, 1, f.ticketType(tt.ID).QuantitySold)
}

func TestPaymentIntentCoordinator_Open_ReclaimsExpiredHolds(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(1, "80.00")

	first := f.purchase(tt, 1)

	_, err := f.payments.Open(f.ctx, f.purchaseRequest(tt, 1))
	require.ErrorIs(t, err, domain.ErrOutOfStock, "hold is still live")

	f.clock.Advance(16 * time.Minute)
	second := f.purchase(tt, 1)

	assert.Equal(t, domain.ReservationStatusExpired, f.reservation(first.ReservationID).Status)
	assert.Equal(t, domain.ReservationStatusHeld, f.reservation(second.ReservationID).Status)
	assert.Equal(t, 1, f.ticketType(tt.ID).QuantitySold)
}

func TestPaymentIntentCoordinator_Open_ProcessorUnavailable(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(5, "40.00")
	promo := f.seedPromo("TEN", domain.DiscountTypeFixed, "10", "", intPtr(5))

	f.processor.FailNext(gateway.ErrTransient, gateway.ErrTransient, gateway.ErrTransient)

	req := f.purchaseRequest(tt, 2)
	req.PromoCode = "ten"
	_, err := f.payments.Open(f.ctx, req)
	require.ErrorIs(t, err, domain.ErrProcessorUnavailable)

	payments, err := f.repos().Payments.ListByUser(f.ctx, req.UserID, 10, 0)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	p := payments[0]
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Equal(t, FailureProcessorUnavailable, p.FailureCode)
	assert.Equal(t, domain.ReservationStatusReleased, f.reservation(p.ReservationID).Status)
	assert.Equal(t, 0, f.ticketType(tt.ID).QuantitySold)

	restored, err := f.repos().Promos.GetByCode(f.ctx, promo.Code)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.UsedCount)
	assert.Len(t, f.outboxEvents(domain.EventPaymentFailed), 1)
}

func TestPaymentIntentCoordinator_Open_TransientErrorRetried(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(5, "40.00")

	f.processor.FailNext(gateway.ErrTransient)
	result, err := f.payments.Open(f.ctx, f.purchaseRequest(tt, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, result.Payment.Status)
}

func TestPaymentIntentCoordinator_Open_PromoCap(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	f.seedPromo("TWICE", domain.DiscountTypePercentage, "10", "", intPtr(2))

	var discounted int
	for i := 0; i < 4; i++ {
		req := f.purchaseRequest(tt, 1)
		req.PromoCode = "TWICE"
		result, err := f.payments.Open(f.ctx, req)
		require.NoError(t, err)
		if result.Payment.PromoCodeID != nil {
			discounted++
			assert.Equal(t, "5.00", result.Payment.Discount.StringFixed(2))
		} else {
			assert.True(t, result.Payment.Discount.IsZero())
		}
	}

	assert.Equal(t, 2, discounted)
	promo, err := f.repos().Promos.GetByCode(f.ctx, "twice")
	require.NoError(t, err)
	assert.Equal(t, 2, promo.UsedCount)
}

func TestPaymentIntentCoordinator_Open_FreeOrderSettlesImmediately(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "25.00")
	f.seedPromo("FREE", domain.DiscountTypePercentage, "100", "", nil)

	req := f.purchaseRequest(tt, 2)
	req.PromoCode = "FREE"
	result, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)

	assert.Empty(t, result.ClientSecret)
	assert.Equal(t, domain.PaymentStatusCompleted, result.Payment.Status)
	assert.True(t, result.Payment.TotalAmount.IsZero())
	assert.True(t, result.Payment.ProcessorFee.IsZero())
	assert.Len(t, f.tickets(result.Payment.ID), 2)
	assert.Equal(t, domain.ReservationStatusCommitted, f.reservation(result.Payment.ReservationID).Status)
}

func TestPaymentIntentCoordinator_Confirm(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")

	req := f.purchaseRequest(tt, 2)
	result, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)
	intentID := result.Payment.IntentID

	_, err = f.payments.Confirm(f.ctx, intentID, req.UserID)
	require.ErrorIs(t, err, domain.ErrPaymentNotSucceeded)

	_, err = f.payments.Confirm(f.ctx, intentID, "someone-else")
	require.ErrorIs(t, err, domain.ErrPaymentAccessForbidden)

	require.NoError(t, f.processor.SetIntentStatus(intentID, gateway.IntentSucceeded))
	p, err := f.payments.Confirm(f.ctx, intentID, req.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.NotEmpty(t, p.ChargeID)
	require.Len(t, f.tickets(p.ID), 2)

	again, err := f.payments.Confirm(f.ctx, intentID, req.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, again.Status)
	assert.Len(t, f.tickets(p.ID), 2, "confirm twice issues one ticket set")

	// the webhook arriving afterwards is absorbed
	res, err := f.succeed(p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySettled, res.Outcome)
	assert.Len(t, f.tickets(p.ID), 2)
}

func TestPaymentIntentCoordinator_Confirm_FailedIntent(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(3, "50.00")
	req := f.purchaseRequest(tt, 3)
	result, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)

	require.NoError(t, f.processor.SetIntentStatus(result.Payment.IntentID, gateway.IntentCanceled))
	_, err = f.payments.Confirm(f.ctx, result.Payment.IntentID, req.UserID)
	require.ErrorIs(t, err, domain.ErrPaymentNotSucceeded)

	p := f.payment(result.Payment.ID)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Equal(t, 0, f.ticketType(tt.ID).QuantitySold)
}

func TestPaymentIntentCoordinator_GetAndList(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	req := f.purchaseRequest(tt, 1)

	first, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)

	got, err := f.payments.Get(f.ctx, first.Payment.ID, req.UserID)
	require.NoError(t, err)
	assert.Equal(t, first.Payment.OrderNumber, got.OrderNumber)

	_, err = f.payments.Get(f.ctx, first.Payment.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrPaymentAccessForbidden)

	list, err := f.payments.ListForUser(f.ctx, req.UserID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Payment.ID, list[0].ID, "newest first")
}
