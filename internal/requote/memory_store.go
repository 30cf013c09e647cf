package requote

import (
	"context"
	"sort"
	"sync"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// MemoryStore is an in-memory requote store for demo/development mode.
type MemoryStore struct {
	requotes map[string]*Requote
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory requote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requotes: make(map[string]*Requote)}
}

func (m *MemoryStore) Create(ctx context.Context, _ store.Querier, r *Requote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.requotes {
		if cur.BookingID == r.BookingID && cur.Status == StatusPending {
			return ErrPendingExists
		}
	}
	cp := *r
	m.requotes[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, _ store.Querier, id string) (*Requote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requotes[id]
	if !ok {
		return nil, ErrRequoteNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetPendingByBooking(ctx context.Context, _ store.Querier, bookingID string) (*Requote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.requotes {
		if r.BookingID == bookingID && r.Status == StatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequoteNotFound
}

func (m *MemoryStore) Update(ctx context.Context, _ store.Querier, r *Requote, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.requotes[r.ID]
	if !ok {
		return ErrRequoteNotFound
	}
	if cur.Status != expect {
		return store.ErrConflict
	}
	cp := *r
	m.requotes[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByBooking(ctx context.Context, _ store.Querier, bookingID string) ([]*Requote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Requote
	for _, r := range m.requotes {
		if r.BookingID == bookingID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
