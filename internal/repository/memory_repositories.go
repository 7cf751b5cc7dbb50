package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/shopspring/decimal"
)

type memoryInventoryRepository struct{ memoryBase }

func (r *memoryInventoryRepository) CreateTicketType(ctx context.Context, tt *domain.TicketType) error {
	st, unlock := r.lock()
	defer unlock()

	c := *tt
	st.ticketTypes[tt.ID] = &c
	return nil
}

func (r *memoryInventoryRepository) GetTicketType(ctx context.Context, id string) (*domain.TicketType, error) {
	st, unlock := r.lock()
	defer unlock()

	tt, ok := st.ticketTypes[id]
	if !ok {
		return nil, domain.ErrTicketTypeNotFound
	}
	c := *tt
	return &c, nil
}

func (r *memoryInventoryRepository) IncrementSold(ctx context.Context, ticketTypeID string, n int) error {
	st, unlock := r.lock()
	defer unlock()

	tt, ok := st.ticketTypes[ticketTypeID]
	if !ok {
		return domain.ErrTicketTypeNotFound
	}
	if tt.QuantitySold+n > tt.Quantity {
		return domain.ErrOutOfStock
	}
	tt.QuantitySold += n
	return nil
}

func (r *memoryInventoryRepository) DecrementSold(ctx context.Context, ticketTypeID string, n int) error {
	st, unlock := r.lock()
	defer unlock()

	tt, ok := st.ticketTypes[ticketTypeID]
	if !ok {
		return domain.ErrTicketTypeNotFound
	}
	if tt.QuantitySold < n {
		return domain.ErrInsufficientSoldCount
	}
	tt.QuantitySold -= n
	return nil
}

func (r *memoryInventoryRepository) CreateSeats(ctx context.Context, seats []*domain.Seat) error {
	st, unlock := r.lock()
	defer unlock()

	for _, s := range seats {
		c := *s
		st.seats[s.ID] = &c
	}
	return nil
}

func (r *memoryInventoryRepository) GetSeats(ctx context.Context, ids []string) ([]*domain.Seat, error) {
	st, unlock := r.lock()
	defer unlock()

	var out []*domain.Seat
	for _, id := range ids {
		if s, ok := st.seats[id]; ok {
			c := *s
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Seat) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *memoryInventoryRepository) ReserveSeats(ctx context.Context, ticketTypeID, reservationID string, ids []string, heldUntil time.Time) error {
	st, unlock := r.lock()
	defer unlock()

	for _, id := range ids {
		s, ok := st.seats[id]
		if !ok || s.TicketTypeID != ticketTypeID || s.Status != domain.SeatStatusAvailable {
			return domain.ErrSeatUnavailable
		}
	}
	for _, id := range ids {
		s := st.seats[id]
		res, until := reservationID, heldUntil
		s.Status = domain.SeatStatusReserved
		s.ReservationID = &res
		s.HeldUntil = &until
	}
	return nil
}

func (r *memoryInventoryRepository) MarkSeatsSold(ctx context.Context, reservationID string, ids []string) error {
	st, unlock := r.lock()
	defer unlock()

	for _, id := range ids {
		s, ok := st.seats[id]
		if !ok || s.Status != domain.SeatStatusReserved || s.ReservationID == nil || *s.ReservationID != reservationID {
			return domain.ErrSeatUnavailable
		}
	}
	for _, id := range ids {
		s := st.seats[id]
		s.Status = domain.SeatStatusSold
		s.HeldUntil = nil
	}
	return nil
}

func (r *memoryInventoryRepository) ReleaseSeats(ctx context.Context, reservationID string, ids []string) error {
	st, unlock := r.lock()
	defer unlock()

	for _, id := range ids {
		s, ok := st.seats[id]
		if ok && s.Status == domain.SeatStatusReserved && s.ReservationID != nil && *s.ReservationID == reservationID {
			s.Status = domain.SeatStatusAvailable
			s.ReservationID = nil
			s.HeldUntil = nil
		}
	}
	return nil
}

func (r *memoryInventoryRepository) ReleaseSoldSeats(ctx context.Context, ids []string) (int64, error) {
	st, unlock := r.lock()
	defer unlock()

	var n int64
	for _, id := range ids {
		if s, ok := st.seats[id]; ok && s.Status == domain.SeatStatusSold {
			s.Status = domain.SeatStatusAvailable
			s.ReservationID = nil
			n++
		}
	}
	return n, nil
}

func (r *memoryInventoryRepository) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	st, unlock := r.lock()
	defer unlock()

	c := *res
	c.SeatIDs = slices.Clone(res.SeatIDs)
	st.reservations[res.ID] = &c
	return nil
}

func (r *memoryInventoryRepository) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	st, unlock := r.lock()
	defer unlock()

	res, ok := st.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	c := *res
	c.SeatIDs = slices.Clone(res.SeatIDs)
	return &c, nil
}

func (r *memoryInventoryRepository) TransitionReservation(ctx context.Context, id string, from, to domain.ReservationStatus, now time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: reservation %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	st, unlock := r.lock()
	defer unlock()

	res, ok := st.reservations[id]
	if !ok || res.Status != from {
		return false, nil
	}
	res.Status = to
	res.UpdatedAt = now
	return true, nil
}

func (r *memoryInventoryRepository) ListExpiredReservations(ctx context.Context, ticketTypeID string, now time.Time, limit int) ([]*domain.Reservation, error) {
	st, unlock := r.lock()
	defer unlock()

	var out []*domain.Reservation
	for _, res := range st.reservations {
		if res.Status != domain.ReservationStatusHeld || res.ExpiresAt.After(now) {
			continue
		}
		if ticketTypeID != "" && res.TicketTypeID != ticketTypeID {
			continue
		}
		c := *res
		c.SeatIDs = slices.Clone(res.SeatIDs)
		out = append(out, &c)
	}
	sortByCreated(out,
		func(r *domain.Reservation) int64 { return r.ExpiresAt.UnixNano() },
		func(r *domain.Reservation) string { return r.ID })
	return page(out, limit, 0), nil
}

type memoryPaymentRepository struct{ memoryBase }

func (r *memoryPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	st, unlock := r.lock()
	defer unlock()

	if _, exists := st.payments[p.ID]; exists {
		return fmt.Errorf("%w: duplicate payment %s", domain.ErrPaymentStatusConflict, p.ID)
	}
	c := *p
	st.payments[p.ID] = &c
	return nil
}

func (r *memoryPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	st, unlock := r.lock()
	defer unlock()

	p, ok := st.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

// GetForUpdate needs no row lock: transactions already run one at a time
func (r *memoryPaymentRepository) GetForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryPaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	st, unlock := r.lock()
	defer unlock()

	for _, p := range st.payments {
		if intentID != "" && p.IntentID == intentID {
			c := *p
			return &c, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *memoryPaymentRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Payment, error) {
	st, unlock := r.lock()
	defer unlock()

	var out []*domain.Payment
	for _, p := range st.payments {
		if p.UserID == userID {
			c := *p
			out = append(out, &c)
		}
	}
	sortByCreated(out,
		func(p *domain.Payment) int64 { return -p.CreatedAt.UnixNano() },
		func(p *domain.Payment) string { return p.ID })
	return page(out, limit, offset), nil
}

func (r *memoryPaymentRepository) Update(ctx context.Context, p *domain.Payment, expected domain.PaymentStatus) error {
	st, unlock := r.lock()
	defer unlock()

	stored, ok := st.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Status != expected {
		return fmt.Errorf("%w: payment %s is no longer %s", domain.ErrPaymentStatusConflict, p.ID, expected)
	}
	c := *p
	st.payments[p.ID] = &c
	return nil
}

func (r *memoryPaymentRepository) ReserveRefund(ctx context.Context, id string, amount decimal.Decimal) error {
	st, unlock := r.lock()
	defer unlock()

	p, ok := st.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if !p.Status.IsRefundable() {
		return domain.ErrPaymentNotRefundable
	}
	if p.RefundedAmount.Add(p.PendingRefundAmount).Add(amount).GreaterThan(p.TotalAmount) {
		return domain.ErrRefundExceedsBalance
	}
	p.PendingRefundAmount = p.PendingRefundAmount.Add(amount)
	return nil
}

func (r *memoryPaymentRepository) ReleasePendingRefund(ctx context.Context, id string, amount decimal.Decimal) error {
	st, unlock := r.lock()
	defer unlock()

	p, ok := st.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.PendingRefundAmount = decimal.Max(decimal.Zero, p.PendingRefundAmount.Sub(amount))
	return nil
}

type memoryTicketRepository struct{ memoryBase }

func (r *memoryTicketRepository) CreateBatch(ctx context.Context, tickets []*domain.Ticket) error {
	st, unlock := r.lock()
	defer unlock()

	for _, t := range tickets {
		for _, existing := range st.tickets {
			if existing.TicketNumber == t.TicketNumber || existing.ScanCode == t.ScanCode || existing.Barcode == t.Barcode {
				return fmt.Errorf("failed to create tickets: duplicate identifier for %s", t.ID)
			}
		}
		c := *t
		st.tickets[t.ID] = &c
	}
	return nil
}

func (r *memoryTicketRepository) byPayment(st *memoryState, paymentID string) []*domain.Ticket {
	var out []*domain.Ticket
	for _, t := range st.tickets {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	sortByCreated(out,
		func(t *domain.Ticket) int64 { return t.CreatedAt.UnixNano() },
		func(t *domain.Ticket) string { return t.TicketNumber })
	return out
}

func (r *memoryTicketRepository) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Ticket, error) {
	st, unlock := r.lock()
	defer unlock()

	out := []*domain.Ticket{}
	for _, t := range r.byPayment(st, paymentID) {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (r *memoryTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	st, unlock := r.lock()
	defer unlock()

	t, ok := st.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	c := *t
	return &c, nil
}

func (r *memoryTicketRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	st, unlock := r.lock()
	defer unlock()

	t, ok := st.tickets[id]
	if !ok {
		return false, domain.ErrTicketNotFound
	}
	if t.Status != domain.TicketStatusActive {
		return false, nil
	}
	t.Status = domain.TicketStatusCancelled
	t.CancelledAt = &now
	t.UpdatedAt = now
	return true, nil
}

func (r *memoryTicketRepository) CancelByPayment(ctx context.Context, paymentID string, limit int, now time.Time) (int, []string, error) {
	st, unlock := r.lock()
	defer unlock()

	count := 0
	var seatIDs []string
	for _, t := range r.byPayment(st, paymentID) {
		if count >= limit {
			break
		}
		if t.Status != domain.TicketStatusActive {
			continue
		}
		t.Status = domain.TicketStatusCancelled
		t.CancelledAt = &now
		t.UpdatedAt = now
		count++
		if t.SeatID != nil {
			seatIDs = append(seatIDs, *t.SeatID)
		}
	}
	return count, seatIDs, nil
}

type memoryPromoRepository struct{ memoryBase }

func (r *memoryPromoRepository) Create(ctx context.Context, p *domain.PromoCode) error {
	st, unlock := r.lock()
	defer unlock()

	c := *p
	c.Code = domain.NormalizePromoCode(p.Code)
	st.promos[p.ID] = &c
	return nil
}

func (r *memoryPromoRepository) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	st, unlock := r.lock()
	defer unlock()

	code = domain.NormalizePromoCode(code)
	for _, p := range st.promos {
		if p.Code == code {
			c := *p
			return &c, nil
		}
	}
	return nil, domain.ErrPromoCodeNotFound
}

func (r *memoryPromoRepository) IncrementUsage(ctx context.Context, id string) error {
	st, unlock := r.lock()
	defer unlock()

	p, ok := st.promos[id]
	if !ok || !p.IsActive || (p.MaxUses != nil && p.UsedCount >= *p.MaxUses) {
		return domain.ErrPromoCodeExhausted
	}
	p.UsedCount++
	return nil
}

func (r *memoryPromoRepository) DecrementUsage(ctx context.Context, id string) error {
	st, unlock := r.lock()
	defer unlock()

	if p, ok := st.promos[id]; ok && p.UsedCount > 0 {
		p.UsedCount--
	}
	return nil
}

type memoryWaitlistRepository struct{ memoryBase }

func (r *memoryWaitlistRepository) Create(ctx context.Context, e *domain.WaitlistEntry) error {
	st, unlock := r.lock()
	defer unlock()

	maxPos := 0
	for _, existing := range st.waitlist {
		if existing.EventID != e.EventID {
			continue
		}
		if existing.Email == e.Email {
			return domain.ErrAlreadyOnWaitlist
		}
		maxPos = max(maxPos, existing.Position)
	}
	e.Position = maxPos + 1
	e.UpdatedAt = e.CreatedAt
	c := *e
	st.waitlist[e.ID] = &c
	return nil
}

func (r *memoryWaitlistRepository) GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	st, unlock := r.lock()
	defer unlock()

	e, ok := st.waitlist[id]
	if !ok {
		return nil, domain.ErrWaitlistEntryNotFound
	}
	c := *e
	return &c, nil
}

func (r *memoryWaitlistRepository) GetByEventAndEmail(ctx context.Context, eventID, email string) (*domain.WaitlistEntry, error) {
	st, unlock := r.lock()
	defer unlock()

	email = domain.NormalizeEmail(email)
	for _, e := range st.waitlist {
		if e.EventID == eventID && e.Email == email {
			c := *e
			return &c, nil
		}
	}
	return nil, domain.ErrWaitlistEntryNotFound
}

func (r *memoryWaitlistRepository) ListByEvent(ctx context.Context, eventID string, status domain.WaitlistStatus, limit, offset int) ([]*domain.WaitlistEntry, error) {
	st, unlock := r.lock()
	defer unlock()

	var out []*domain.WaitlistEntry
	for _, e := range st.waitlist {
		if e.EventID == eventID && (status == "" || e.Status == status) {
			c := *e
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *domain.WaitlistEntry) int { return a.Position - b.Position })
	return page(out, limit, offset), nil
}

func (r *memoryWaitlistRepository) Notify(ctx context.Context, id string, now, expiresAt time.Time) (*domain.WaitlistEntry, error) {
	st, unlock := r.lock()
	defer unlock()

	e, ok := st.waitlist[id]
	if !ok || e.Status != domain.WaitlistStatusWaiting {
		return nil, nil
	}
	e.Status = domain.WaitlistStatusNotified
	e.NotifiedAt = &now
	e.ExpiresAt = &expiresAt
	e.UpdatedAt = now
	c := *e
	return &c, nil
}

func (r *memoryWaitlistRepository) MarkConverted(ctx context.Context, id string, now time.Time) error {
	st, unlock := r.lock()
	defer unlock()

	e, ok := st.waitlist[id]
	if !ok || e.Status != domain.WaitlistStatusNotified || e.ExpiresAt == nil || !e.ExpiresAt.After(now) {
		return domain.ErrInvalidWaitlistPass
	}
	e.Status = domain.WaitlistStatusConverted
	e.ConvertedAt = &now
	e.UpdatedAt = now
	return nil
}

func (r *memoryWaitlistRepository) Cancel(ctx context.Context, id string, now time.Time) error {
	st, unlock := r.lock()
	defer unlock()

	e, ok := st.waitlist[id]
	if !ok || !e.Status.CanTransitionTo(domain.WaitlistStatusCancelled) {
		return domain.ErrWaitlistEntryNotFound
	}
	e.Status = domain.WaitlistStatusCancelled
	e.UpdatedAt = now
	return nil
}

func (r *memoryWaitlistRepository) ExpireNotified(ctx context.Context, now time.Time, limit int) (int64, error) {
	st, unlock := r.lock()
	defer unlock()

	var n int64
	for _, e := range st.waitlist {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if e.Status == domain.WaitlistStatusNotified && e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			e.Status = domain.WaitlistStatusExpired
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

type memoryWebhookEventRepository struct{ memoryBase }

func (r *memoryWebhookEventRepository) Record(ctx context.Context, e *domain.ProcessedWebhookEvent) (bool, error) {
	st, unlock := r.lock()
	defer unlock()

	if _, exists := st.webhookEvents[e.EventID]; exists {
		return false, nil
	}
	c := *e
	st.webhookEvents[e.EventID] = &c
	return true, nil
}

type memoryRefundRepository struct{ memoryBase }

func (r *memoryRefundRepository) Create(ctx context.Context, ref *domain.Refund) error {
	st, unlock := r.lock()
	defer unlock()

	c := *ref
	st.refunds[ref.ID] = &c
	return nil
}

func (r *memoryRefundRepository) Update(ctx context.Context, ref *domain.Refund) error {
	st, unlock := r.lock()
	defer unlock()

	stored, ok := st.refunds[ref.ID]
	if !ok {
		return domain.ErrRefundNotFound
	}
	stored.Status = ref.Status
	stored.ProcessorRefundID = ref.ProcessorRefundID
	stored.TicketsCancelled = ref.TicketsCancelled
	stored.UpdatedAt = ref.UpdatedAt
	return nil
}

func (r *memoryRefundRepository) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	st, unlock := r.lock()
	defer unlock()

	out := []*domain.Refund{}
	for _, ref := range st.refunds {
		if ref.PaymentID == paymentID {
			c := *ref
			out = append(out, &c)
		}
	}
	sortByCreated(out,
		func(r *domain.Refund) int64 { return r.CreatedAt.UnixNano() },
		func(r *domain.Refund) string { return r.ID })
	return out, nil
}

type memoryOutboxRepository struct{ memoryBase }

func (r *memoryOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	st, unlock := r.lock()
	defer unlock()

	if msg.ID == "" {
		msg.ID = domain.NewID()
	}
	c := *msg
	st.outbox[msg.ID] = &c
	return nil
}

func (r *memoryOutboxRepository) list(match func(*domain.OutboxMessage) bool, limit int) []*domain.OutboxMessage {
	st, unlock := r.lock()
	defer unlock()

	var out []*domain.OutboxMessage
	for _, m := range st.outbox {
		if match(m) {
			c := *m
			out = append(out, &c)
		}
	}
	sortByCreated(out,
		func(m *domain.OutboxMessage) int64 { return m.CreatedAt.UnixNano() },
		func(m *domain.OutboxMessage) string { return m.ID })
	return page(out, limit, 0)
}

func (r *memoryOutboxRepository) GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	return r.list(func(m *domain.OutboxMessage) bool { return m.Status == domain.OutboxStatusPending }, limit), nil
}

func (r *memoryOutboxRepository) GetFailed(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	return r.list(func(m *domain.OutboxMessage) bool { return m.CanRetry() }, limit), nil
}

func (r *memoryOutboxRepository) update(id string, fn func(m *domain.OutboxMessage)) error {
	st, unlock := r.lock()
	defer unlock()

	m, ok := st.outbox[id]
	if !ok {
		return errOutboxMessageNotFound
	}
	fn(m)
	return nil
}

func (r *memoryOutboxRepository) MarkPublished(ctx context.Context, id string, now time.Time) error {
	return r.update(id, func(m *domain.OutboxMessage) {
		m.Status = domain.OutboxStatusPublished
		m.ProcessedAt = &now
		m.PublishedAt = &now
	})
}

func (r *memoryOutboxRepository) MarkFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	return r.update(id, func(m *domain.OutboxMessage) {
		m.Status = domain.OutboxStatusFailed
		m.LastError = errMsg
		m.RetryCount++
		m.ProcessedAt = &now
	})
}

func (r *memoryOutboxRepository) MarkDeadLettered(ctx context.Context, id, errMsg string, now time.Time) error {
	return r.update(id, func(m *domain.OutboxMessage) {
		m.Status = domain.OutboxStatusDeadLettered
		m.LastError = errMsg
		m.ProcessedAt = &now
	})
}

func (r *memoryOutboxRepository) DeletePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	st, unlock := r.lock()
	defer unlock()

	var n int64
	for id, m := range st.outbox {
		if m.Status == domain.OutboxStatusPublished && m.PublishedAt != nil && m.PublishedAt.Before(cutoff) {
			delete(st.outbox, id)
			n++
		}
	}
	return n, nil
}
