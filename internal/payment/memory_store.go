package payment

import (
	"context"
	"sync"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// MemoryStore is an in-memory payment store for demo/development mode.
type MemoryStore struct {
	payments  map[string]*Payment
	byBooking map[string]string // booking ID -> payment ID
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:  make(map[string]*Payment),
		byBooking: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, _ store.Querier, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byBooking[p.BookingID]; ok {
		return ErrDuplicate
	}
	cp := *p
	m.payments[p.ID] = &cp
	m.byBooking[p.BookingID] = p.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, _ store.Querier, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByBooking(ctx context.Context, _ store.Querier, bookingID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, _ store.Querier, p *Payment, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	if cur.Status != expect {
		return store.ErrConflict
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}
