package domain

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{PaymentStatusPending, PaymentStatusProcessing, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusCompleted, false},
		{PaymentStatusProcessing, PaymentStatusCompleted, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusCompleted, PaymentStatusProcessing, false},
		{PaymentStatusCompleted, PaymentStatusFailed, false},
		{PaymentStatusCompleted, PaymentStatusRefunded, true},
		{PaymentStatusCompleted, PaymentStatusPartiallyRefunded, true},
		{PaymentStatusPartiallyRefunded, PaymentStatusPartiallyRefunded, true},
		{PaymentStatusPartiallyRefunded, PaymentStatusRefunded, true},
		{PaymentStatusPartiallyRefunded, PaymentStatusCompleted, false},
		{PaymentStatusFailed, PaymentStatusCompleted, false},
		{PaymentStatusFailed, PaymentStatusProcessing, false},
		{PaymentStatusRefunded, PaymentStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayment_TransitionTo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Payment{ID: "pay-1", Status: PaymentStatusProcessing}

	if err := p.TransitionTo(PaymentStatusCompleted, now); err != nil {
		t.Fatalf("TransitionTo() error = %v", err)
	}
	if p.CompletedAt == nil || !p.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", p.CompletedAt, now)
	}

	err := p.TransitionTo(PaymentStatusProcessing, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("TransitionTo() error = %v, want ErrInvalidTransition", err)
	}
	if p.Status != PaymentStatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", p.Status)
	}
}

func TestPayment_Balances(t *testing.T) {
	p := &Payment{
		Quantity:            3,
		TotalAmount:         decimal.RequireFromString("112.98"),
		RefundedAmount:      decimal.RequireFromString("10.00"),
		PendingRefundAmount: decimal.RequireFromString("2.98"),
	}

	if got := p.RefundableBalance(); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("RefundableBalance() = %s, want 100", got)
	}
	if got := p.UnitPrice(); !got.Equal(decimal.RequireFromString("37.66")) {
		t.Errorf("UnitPrice() = %s, want 37.66", got)
	}
	if got := p.AmountMinor(); got != 11298 {
		t.Errorf("AmountMinor() = %d, want 11298", got)
	}
	if got := FromMinor(11298); !got.Equal(p.TotalAmount) {
		t.Errorf("FromMinor() = %s, want 112.98", got)
	}
}

func TestPayment_TicketsCoveredBy(t *testing.T) {
	// 10.00 for three tickets: the rounded unit price 3.33 would count a
	// refund of 3.33 as a whole ticket
	p := &Payment{Quantity: 3, TotalAmount: decimal.RequireFromString("10.00")}

	tests := []struct {
		amount string
		want   int
	}{
		{"0", 0},
		{"3.33", 0},
		{"3.34", 1},
		{"6.66", 1},
		{"6.67", 2},
		{"9.99", 2},
		{"10.00", 3},
		{"12.00", 3},
	}
	for _, tc := range tests {
		if got := p.TicketsCoveredBy(decimal.RequireFromString(tc.amount)); got != tc.want {
			t.Errorf("TicketsCoveredBy(%s) = %d, want %d", tc.amount, got, tc.want)
		}
	}

	if got := (&Payment{Quantity: 2}).TicketsCoveredBy(decimal.NewFromInt(1)); got != 0 {
		t.Errorf("TicketsCoveredBy() on a free payment = %d, want 0", got)
	}
}

func TestReservationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ReservationStatus
		to   ReservationStatus
		want bool
	}{
		{ReservationStatusHeld, ReservationStatusCommitted, true},
		{ReservationStatusHeld, ReservationStatusReleased, true},
		{ReservationStatusHeld, ReservationStatusExpired, true},
		{ReservationStatusExpired, ReservationStatusCommitted, true},
		{ReservationStatusReleased, ReservationStatusCommitted, false},
		{ReservationStatusCommitted, ReservationStatusReleased, false},
		{ReservationStatusExpired, ReservationStatusReleased, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSeatStatus_CanTransitionTo(t *testing.T) {
	if !SeatStatusAvailable.CanTransitionTo(SeatStatusReserved) {
		t.Error("AVAILABLE -> RESERVED should be allowed")
	}
	if SeatStatusAvailable.CanTransitionTo(SeatStatusSold) {
		t.Error("AVAILABLE -> SOLD should be rejected")
	}
	if !SeatStatusSold.CanTransitionTo(SeatStatusAvailable) {
		t.Error("SOLD -> AVAILABLE should be allowed")
	}
}

func TestReservation_IsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Reservation{Status: ReservationStatusHeld, ExpiresAt: now.Add(-time.Minute)}
	if !r.IsExpired(now) {
		t.Error("held reservation past expiry should be expired")
	}
	r.Status = ReservationStatusCommitted
	if r.IsExpired(now) {
		t.Error("committed reservation never expires")
	}
}

func TestTicketType_ValidateQuantity(t *testing.T) {
	tt := &TicketType{MinPerOrder: 2, MaxPerOrder: 4}

	if err := tt.ValidateQuantity(3); err != nil {
		t.Errorf("ValidateQuantity(3) error = %v", err)
	}
	if err := tt.ValidateQuantity(1); !errors.Is(err, ErrOrderLimitExceeded) {
		t.Errorf("ValidateQuantity(1) error = %v, want ErrOrderLimitExceeded", err)
	}
	if err := tt.ValidateQuantity(5); !errors.Is(err, ErrOrderLimitExceeded) {
		t.Errorf("ValidateQuantity(5) error = %v, want ErrOrderLimitExceeded", err)
	}
	if err := tt.ValidateQuantity(0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("ValidateQuantity(0) error = %v, want ErrInvalidQuantity", err)
	}
}

func TestTicketType_SalesOpen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start, end := now.Add(time.Hour), now.Add(2*time.Hour)
	tt := &TicketType{SalesStart: &start, SalesEnd: &end}

	if tt.SalesOpen(now) {
		t.Error("sales should not be open before start")
	}
	if !tt.SalesOpen(now.Add(90 * time.Minute)) {
		t.Error("sales should be open inside the window")
	}
	if tt.SalesOpen(now.Add(3 * time.Hour)) {
		t.Error("sales should be closed after end")
	}
}

func TestPromoCode_IsApplicable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	maxUses := 2
	base := PromoCode{
		IsActive:   true,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		MaxUses:    &maxUses,
	}

	tests := []struct {
		name   string
		mutate func(p *PromoCode)
		want   bool
	}{
		{"valid", func(p *PromoCode) {}, true},
		{"inactive", func(p *PromoCode) { p.IsActive = false }, false},
		{"not started", func(p *PromoCode) { p.ValidFrom = now.Add(time.Minute) }, false},
		{"ended", func(p *PromoCode) { p.ValidUntil = now.Add(-time.Minute) }, false},
		{"exhausted", func(p *PromoCode) { p.UsedCount = 2 }, false},
		{"unlimited", func(p *PromoCode) { p.MaxUses = nil; p.UsedCount = 1000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if got := p.IsApplicable(now); got != tt.want {
				t.Errorf("IsApplicable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTicketsForPayment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Payment{
		ID:           "pay-1",
		UserID:       "user-1",
		EventID:      "evt-1",
		TicketTypeID: "tt-1",
		Quantity:     2,
		Currency:     "USD",
		TotalAmount:  decimal.RequireFromString("100.00"),
	}

	tickets, err := NewTicketsForPayment(p, []string{"seat-a", "seat-b"}, now)
	if err != nil {
		t.Fatalf("NewTicketsForPayment() error = %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("len(tickets) = %d, want 2", len(tickets))
	}
	if tickets[0].TicketNumber == tickets[1].TicketNumber {
		t.Error("ticket numbers must be unique")
	}
	if *tickets[1].SeatID != "seat-b" {
		t.Errorf("SeatID = %s, want seat-b", *tickets[1].SeatID)
	}
	if !tickets[0].PricePaid.Equal(decimal.NewFromInt(50)) {
		t.Errorf("PricePaid = %s, want 50", tickets[0].PricePaid)
	}
}

func TestIdentifiers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	order, err := NewOrderNumber(now)
	if err != nil {
		t.Fatalf("NewOrderNumber() error = %v", err)
	}
	if !regexp.MustCompile(`^ORD-[0-9A-Z]+-[0-9A-Z]{6}$`).MatchString(order) {
		t.Errorf("order number %q has unexpected shape", order)
	}

	scan, _ := NewScanCode()
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(scan) {
		t.Errorf("scan code %q has unexpected shape", scan)
	}

	barcode, _ := NewBarcode()
	if len(barcode) != 13 {
		t.Fatalf("barcode %q should have 13 digits", barcode)
	}
	if want := EANCheckDigit(barcode[:12]); int(barcode[12]-'0') != want {
		t.Errorf("barcode %q check digit = %c, want %d", barcode, barcode[12], want)
	}
}

func TestEANCheckDigit(t *testing.T) {
	// 4006381333931 is a published EAN-13
	if got := EANCheckDigit("400638133393"); got != 1 {
		t.Errorf("EANCheckDigit() = %d, want 1", got)
	}
}

func TestNewOutboxMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Payment{ID: "pay-1", OrderNumber: "ORD-1", FailureCode: "card_declined"}

	msg, err := NewOutboxMessage("payment", p.ID, EventPaymentFailed, NewPaymentFailedEvent(p, now), now)
	if err != nil {
		t.Fatalf("NewOutboxMessage() error = %v", err)
	}
	if msg.Topic != "ticketing.payment-failed" {
		t.Errorf("Topic = %s", msg.Topic)
	}
	if msg.PartitionKey != "pay-1" || msg.Status != OutboxStatusPending {
		t.Errorf("unexpected message %+v", msg)
	}

	var decoded PaymentFailedEvent
	if err := msg.GetPayload(&decoded); err != nil {
		t.Fatalf("GetPayload() error = %v", err)
	}
	if decoded.FailureCode != "card_declined" || decoded.EventType != EventPaymentFailed {
		t.Errorf("decoded = %+v", decoded)
	}

	msg.Status = OutboxStatusFailed
	msg.RetryCount = DefaultOutboxMaxRetries
	if msg.CanRetry() || !msg.Exhausted() {
		t.Error("message at max retries should be exhausted")
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsNotFoundError(ErrPaymentNotFound) || IsNotFoundError(ErrOutOfStock) {
		t.Error("IsNotFoundError misclassified")
	}
	if !IsNotFoundError(ErrTicketNotFound) {
		t.Error("IsNotFoundError should cover tickets")
	}
	if !IsConflictError(ErrOutOfStock) || !IsConflictError(ErrSeatUnavailable) || !IsConflictError(ErrTicketNotActive) {
		t.Error("IsConflictError misclassified")
	}
	if !IsValidationError(ErrInvalidAmount) {
		t.Error("IsValidationError misclassified")
	}
}
