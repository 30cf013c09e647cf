package dispute

import (
	"context"
	"sort"
	"sync"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	disputes  map[string]*Dispute
	byBooking map[string]string // booking ID -> dispute ID
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes:  make(map[string]*Dispute),
		byBooking: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, _ store.Querier, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byBooking[d.BookingID]; ok {
		return ErrAlreadyOpen
	}
	m.disputes[d.ID] = copyDispute(d)
	m.byBooking[d.BookingID] = d.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, _ store.Querier, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(d), nil
}

func (m *MemoryStore) GetByBooking(ctx context.Context, _ store.Querier, bookingID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(m.disputes[id]), nil
}

func (m *MemoryStore) Update(ctx context.Context, _ store.Querier, d *Dispute, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.disputes[d.ID]
	if !ok {
		return ErrDisputeNotFound
	}
	if cur.Status != expect {
		return store.ErrConflict
	}
	m.disputes[d.ID] = copyDispute(d)
	return nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, _ store.Querier, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Dispute
	for _, d := range m.disputes {
		if d.Status.Open() {
			out = append(out, copyDispute(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyDispute(d *Dispute) *Dispute {
	cp := *d
	cp.Attachments = append([]string(nil), d.Attachments...)
	return &cp
}
