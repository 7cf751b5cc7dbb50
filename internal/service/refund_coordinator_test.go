package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// seedCompleted stores a COMPLETED payment that never went through a processor
func (f *fixture) seedCompleted(total, commission, processorFee string) *domain.Payment {
	f.t.Helper()
	order, err := domain.NewOrderNumber(testStart)
	require.NoError(f.t, err)
	completed := testStart
	p := &domain.Payment{
		ID:                 domain.NewID(),
		OrderNumber:        order,
		UserID:             domain.NewID(),
		EventID:            domain.NewID(),
		TicketTypeID:       domain.NewID(),
		Quantity:           1,
		Status:             domain.PaymentStatusCompleted,
		Currency:           "USD",
		Subtotal:           dec(total),
		TotalAmount:        dec(total),
		PlatformCommission: dec(commission),
		ProcessorFee:       dec(processorFee),
		Processor:          "mock",
		CompletedAt:        &completed,
		CreatedAt:          testStart,
		UpdatedAt:          testStart,
	}
	p.OrganizerPayout = dec(total).Sub(dec(commission)).Sub(dec(processorFee))
	require.NoError(f.t, f.repos().Payments.Create(f.ctx, p))
	return p
}

func TestRefundCoordinator_FullRefundZeroesPayout(t *testing.T) {
	f := newFixture(t)
	p := f.seedCompleted("112.98", "11.30", "5.00")

	res, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, RequesterID: p.UserID, Reason: "requested_by_customer"})
	require.NoError(t, err)
	assert.Equal(t, "112.98", res.RefundAmount.StringFixed(2))
	assert.Equal(t, domain.RefundStatusSucceeded, res.Refund.Status)

	got := f.payment(p.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, got.Status)
	assert.Equal(t, "112.98", got.RefundedAmount.StringFixed(2))
	assert.Equal(t, "0.00", got.OrganizerPayout.StringFixed(2), "payout never goes negative")
	assert.Equal(t, "requested_by_customer", got.RefundReason)
	assert.NotNil(t, got.RefundedAt)
	assert.Empty(t, f.processor.Refunds(), "no intent, nothing to send to the processor")
}

func TestRefundCoordinator_PartialSequence(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	p := f.settled(tt, 2)

	steps := []struct {
		amount       string
		status       domain.PaymentStatus
		refunded     string
		payout       string
		active       int
		sold         int
		newCancelled int
	}{
		{"50.00", domain.PaymentStatusPartiallyRefunded, "50.00", "41.80", 1, 1, 1},
		{"30.00", domain.PaymentStatusPartiallyRefunded, "80.00", "11.80", 1, 1, 0},
		{"20.00", domain.PaymentStatusRefunded, "100.00", "0.00", 0, 0, 1},
	}
	for _, step := range steps {
		res, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, Amount: amountPtr(step.amount), RequesterID: p.UserID})
		require.NoError(t, err, "refund %s", step.amount)
		assert.Equal(t, step.newCancelled, res.Refund.TicketsCancelled, "refund %s", step.amount)

		got := f.payment(p.ID)
		assert.Equal(t, step.status, got.Status, "refund %s", step.amount)
		assert.Equal(t, step.refunded, got.RefundedAmount.StringFixed(2))
		assert.Equal(t, step.payout, got.OrganizerPayout.StringFixed(2))
		assert.Equal(t, step.active, f.activeTickets(p.ID))
		assert.Equal(t, step.sold, f.ticketType(tt.ID).QuantitySold)
	}

	refunds := f.processor.Refunds()
	require.Len(t, refunds, 3)
	assert.Equal(t, int64(5000), refunds[0].AmountMinor)
	assert.Equal(t, int64(3000), refunds[1].AmountMinor)
	assert.Equal(t, int64(2000), refunds[2].AmountMinor)
	assert.NotEqual(t, refunds[0].IdempotencyKey, refunds[1].IdempotencyKey)

	assert.Len(t, f.outboxEvents(domain.EventPaymentRefunded), 3)

	_, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, Amount: amountPtr("0.01"), RequesterID: p.UserID})
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)
}

func TestRefundCoordinator_Rejections(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	settled := f.settled(tt, 2)
	open := f.purchase(tt, 1)

	tests := []struct {
		name    string
		req     *RefundRequest
		wantErr error
	}{
		{"exceeds balance", &RefundRequest{PaymentID: settled.ID, Amount: amountPtr("100.01"), RequesterID: settled.UserID}, domain.ErrRefundExceedsBalance},
		{"zero amount", &RefundRequest{PaymentID: settled.ID, Amount: amountPtr("0"), RequesterID: settled.UserID}, domain.ErrInvalidAmount},
		{"negative amount", &RefundRequest{PaymentID: settled.ID, Amount: amountPtr("-5"), RequesterID: settled.UserID}, domain.ErrInvalidAmount},
		{"sub-cent amount", &RefundRequest{PaymentID: settled.ID, Amount: amountPtr("1.234"), RequesterID: settled.UserID}, domain.ErrInvalidAmount},
		{"not settled", &RefundRequest{PaymentID: open.ID, RequesterID: open.UserID}, domain.ErrPaymentNotRefundable},
		{"someone else's payment", &RefundRequest{PaymentID: settled.ID, RequesterID: domain.NewID()}, domain.ErrPaymentAccessForbidden},
		{"unknown payment", &RefundRequest{PaymentID: domain.NewID(), Privileged: true}, domain.ErrPaymentNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.refunds.Refund(f.ctx, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	got := f.payment(settled.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	assert.True(t, got.RefundedAmount.IsZero())
	assert.Empty(t, f.processor.Refunds())

	// organizers and admins refund on the buyer's behalf
	_, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: settled.ID, Amount: amountPtr("10"), Privileged: true})
	require.NoError(t, err)
}

func TestRefundCoordinator_ProcessorFailureFreesBalance(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	p := f.settled(tt, 2)

	f.processor.FailNext(gateway.ErrTransient, gateway.ErrTransient, gateway.ErrTransient)
	_, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, RequesterID: p.UserID})
	require.ErrorIs(t, err, domain.ErrProcessorUnavailable)

	got := f.payment(p.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	assert.True(t, got.PendingRefundAmount.IsZero(), "pending amount is released")
	assert.Equal(t, "100.00", got.RefundableBalance().StringFixed(2))
	assert.Equal(t, 2, f.activeTickets(p.ID))

	refunds, err := f.refunds.ListForPayment(f.ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundStatusFailed, refunds[0].Status)

	res, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, RequesterID: p.UserID})
	require.NoError(t, err)
	assert.Equal(t, "100.00", res.RefundAmount.StringFixed(2))
}

func TestRefundCoordinator_ConcurrentRefundsStayWithinTotal(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	p := f.settled(tt, 2)

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, Amount: amountPtr("20"), RequesterID: p.UserID})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrRefundExceedsBalance), errors.Is(err, domain.ErrPaymentNotRefundable):
				rejected.Add(1)
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(5), rejected.Load())

	got := f.payment(p.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, got.Status)
	assert.Equal(t, "100.00", got.RefundedAmount.StringFixed(2))
	assert.False(t, got.OrganizerPayout.IsNegative())
	assert.Equal(t, 0, f.ticketType(tt.ID).QuantitySold)
}

// settledWithSeats settles a purchase of one seat per ticket
func (f *fixture) settledWithSeats(tt *domain.TicketType, qty int) (*domain.Payment, []string) {
	f.t.Helper()
	seats := f.seedSeats(tt, qty)
	req := f.purchaseRequest(tt, qty)
	req.SeatIDs = seats
	result, err := f.payments.Open(f.ctx, req)
	require.NoError(f.t, err)
	res, err := f.succeed(result.Payment)
	require.NoError(f.t, err)
	require.Equal(f.t, OutcomeSettled, res.Outcome)
	return f.payment(result.Payment.ID), seats
}

func (f *fixture) seatStatuses(ids []string) map[domain.SeatStatus]int {
	f.t.Helper()
	seats, err := f.repos().Inventory.GetSeats(f.ctx, ids)
	require.NoError(f.t, err)
	counts := map[domain.SeatStatus]int{}
	for _, s := range seats {
		counts[s.Status]++
	}
	return counts
}

func TestRefundCoordinator_FullRefundFreesSeats(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	p, seats := f.settledWithSeats(tt, 2)
	require.Equal(t, map[domain.SeatStatus]int{domain.SeatStatusSold: 2}, f.seatStatuses(seats))

	res, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, RequesterID: p.UserID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Refund.TicketsCancelled)

	assert.Equal(t, map[domain.SeatStatus]int{domain.SeatStatusAvailable: 2}, f.seatStatuses(seats))
	assert.Equal(t, 0, f.ticketType(tt.ID).QuantitySold)
	assert.Equal(t, 0, f.activeTickets(p.ID))
}

func TestRefundCoordinator_PartialRefundFreesOneSeat(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "50.00")
	p, seats := f.settledWithSeats(tt, 2)

	res, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, Amount: amountPtr("50.00"), RequesterID: p.UserID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refund.TicketsCancelled)

	assert.Equal(t, map[domain.SeatStatus]int{domain.SeatStatusAvailable: 1, domain.SeatStatusSold: 1}, f.seatStatuses(seats))
	assert.Equal(t, 1, f.ticketType(tt.ID).QuantitySold)
	assert.Equal(t, 1, f.activeTickets(p.ID))

	for _, tk := range f.tickets(p.ID) {
		require.NotNil(t, tk.SeatID)
		want := domain.SeatStatusSold
		if tk.Status == domain.TicketStatusCancelled {
			want = domain.SeatStatusAvailable
		}
		assert.Equal(t, map[domain.SeatStatus]int{want: 1}, f.seatStatuses([]string{*tk.SeatID}), "seat follows its ticket")
	}
}

func TestRefundCoordinator_UnevenSplitCancelsOnlyCoveredTickets(t *testing.T) {
	f := newFixture(t)
	tt := f.seedTicketType(10, "3.34")
	f.seedPromo("TWOCENTS", domain.DiscountTypeFixed, "0.02", "", nil)
	req := f.purchaseRequest(tt, 3)
	req.PromoCode = "TWOCENTS"
	opened, err := f.payments.Open(f.ctx, req)
	require.NoError(t, err)
	_, err = f.succeed(opened.Payment)
	require.NoError(t, err)
	p := f.payment(opened.Payment.ID)
	require.Equal(t, "10.00", p.TotalAmount.StringFixed(2))

	// a third of 10.00 is 3.333..., so 3.33 does not pay for a ticket
	res, err := f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, Amount: amountPtr("3.33"), RequesterID: p.UserID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Refund.TicketsCancelled)
	assert.Equal(t, 3, f.activeTickets(p.ID))
	assert.Equal(t, 3, f.ticketType(tt.ID).QuantitySold)

	res, err = f.refunds.Refund(f.ctx, &RefundRequest{PaymentID: p.ID, Amount: amountPtr("0.01"), RequesterID: p.UserID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refund.TicketsCancelled)
	assert.Equal(t, 2, f.activeTickets(p.ID))
	assert.Equal(t, 2, f.ticketType(tt.ID).QuantitySold)
}
