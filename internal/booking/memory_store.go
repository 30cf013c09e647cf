package booking

import (
	"context"
	"sort"
	"sync"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// MemoryStore is an in-memory booking store for demo/development mode.
type MemoryStore struct {
	bookings map[string]*Booking
	updates  map[string][]*StatusUpdate // booking ID -> status trail
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*Booking),
		updates:  make(map[string][]*StatusUpdate),
	}
}

func (m *MemoryStore) Create(ctx context.Context, _ store.Querier, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyBooking(b)
	m.bookings[b.ID] = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, _ store.Querier, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return copyBooking(b), nil
}

func (m *MemoryStore) Update(ctx context.Context, _ store.Querier, b *Booking, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.bookings[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	if cur.Status != expect {
		return store.ErrConflict
	}
	m.bookings[b.ID] = copyBooking(b)
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, _ store.Querier, userID string, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Booking
	for _, b := range m.bookings {
		if b.CustomerID == userID || b.ProviderID == userID {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendStatusUpdate(ctx context.Context, _ store.Querier, u *StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *u
	m.updates[u.BookingID] = append(m.updates[u.BookingID], &cp)
	return nil
}

func (m *MemoryStore) ListStatusUpdates(ctx context.Context, _ store.Querier, bookingID string) ([]*StatusUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trail := m.updates[bookingID]
	out := make([]*StatusUpdate, len(trail))
	for i, u := range trail {
		cp := *u
		out[i] = &cp
	}
	return out, nil
}

func copyBooking(b *Booking) *Booking {
	cp := *b
	cp.LineItems = append([]LineItem(nil), b.LineItems...)
	return &cp
}
