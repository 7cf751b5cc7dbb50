package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

// MemoryStore implements Store in memory. This is useful for testing and
// development. One mutex serialises transactions and a snapshot taken at
// the start of WithTx is restored when fn fails.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	ticketTypes   map[string]*domain.TicketType
	seats         map[string]*domain.Seat
	reservations  map[string]*domain.Reservation
	payments      map[string]*domain.Payment
	tickets       map[string]*domain.Ticket
	promos        map[string]*domain.PromoCode
	waitlist      map[string]*domain.WaitlistEntry
	webhookEvents map[string]*domain.ProcessedWebhookEvent
	refunds       map[string]*domain.Refund
	outbox        map[string]*domain.OutboxMessage
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		ticketTypes:   map[string]*domain.TicketType{},
		seats:         map[string]*domain.Seat{},
		reservations:  map[string]*domain.Reservation{},
		payments:      map[string]*domain.Payment{},
		tickets:       map[string]*domain.Ticket{},
		promos:        map[string]*domain.PromoCode{},
		waitlist:      map[string]*domain.WaitlistEntry{},
		webhookEvents: map[string]*domain.ProcessedWebhookEvent{},
		refunds:       map[string]*domain.Refund{},
		outbox:        map[string]*domain.OutboxMessage{},
	}}
}

// cloneMap copies every value so a snapshot shares no mutable structs
func cloneMap[T any](m map[string]*T, clone func(T) T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		c := clone(*v)
		out[k] = &c
	}
	return out
}

func same[T any](v T) T { return v }

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		ticketTypes:   cloneMap(s.ticketTypes, same[domain.TicketType]),
		seats:         cloneMap(s.seats, same[domain.Seat]),
		payments:      cloneMap(s.payments, same[domain.Payment]),
		tickets:       cloneMap(s.tickets, same[domain.Ticket]),
		promos:        cloneMap(s.promos, same[domain.PromoCode]),
		waitlist:      cloneMap(s.waitlist, same[domain.WaitlistEntry]),
		webhookEvents: cloneMap(s.webhookEvents, same[domain.ProcessedWebhookEvent]),
		refunds:       cloneMap(s.refunds, same[domain.Refund]),
	}
	c.reservations = cloneMap(s.reservations, func(r domain.Reservation) domain.Reservation {
		r.SeatIDs = slices.Clone(r.SeatIDs)
		return r
	})
	c.outbox = cloneMap(s.outbox, func(m domain.OutboxMessage) domain.OutboxMessage {
		m.Payload = slices.Clone(m.Payload)
		m.Headers = maps.Clone(m.Headers)
		return m
	})
	return c
}

// Repos returns repositories that lock the store per call
func (s *MemoryStore) Repos() Repositories {
	return s.repos(false)
}

// WithTx holds the store lock for the whole of fn
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.repos(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) repos(inTx bool) Repositories {
	b := memoryBase{store: s, inTx: inTx}
	return Repositories{
		Inventory: &memoryInventoryRepository{b},
		Payments:  &memoryPaymentRepository{b},
		Tickets:   &memoryTicketRepository{b},
		Promos:    &memoryPromoRepository{b},
		Waitlist:  &memoryWaitlistRepository{b},
		Webhooks:  &memoryWebhookEventRepository{b},
		Refunds:   &memoryRefundRepository{b},
		Outbox:    &memoryOutboxRepository{b},
	}
}

// memoryBase is embedded by every memory repository
type memoryBase struct {
	store *MemoryStore
	inTx  bool
}

// lock takes the store mutex unless the caller already holds it through
// WithTx, and returns the current state
func (b memoryBase) lock() (*memoryState, func()) {
	if b.inTx {
		return b.store.state, func() {}
	}
	b.store.mu.Lock()
	return b.store.state, b.store.mu.Unlock
}

// sortByCreated orders values oldest first, ties broken by key
func sortByCreated[T any](items []*T, created func(*T) int64, key func(*T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if ci != cj {
			return ci < cj
		}
		return key(items[i]) < key(items[j])
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

var _ Store = (*MemoryStore)(nil)
