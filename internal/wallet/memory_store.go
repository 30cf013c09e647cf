package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/pagination"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
// The Querier argument is ignored; the store.Memory runner serializes all
// transactions.
type MemoryStore struct {
	wallets map[string]*Wallet // keyed by user ID
	txns    []*Transaction
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*Wallet)}
}

func (m *MemoryStore) Get(ctx context.Context, _ store.Querier, userID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) Credit(ctx context.Context, _ store.Querier, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	w, ok := m.wallets[userID]
	if !ok {
		w = &Wallet{ID: idgen.WithPrefix("wal_"), UserID: userID, CreatedAt: now}
		m.wallets[userID] = w
	}
	w.Balance += amount
	w.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, _ store.Querier, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Balance < amount {
		return ErrInsufficientFunds
	}
	w.Balance -= amount
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) RecordTransaction(ctx context.Context, _ store.Querier, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.txns = append(m.txns, &cp)
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, _ store.Querier, userID string, before *pagination.Cursor, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.txns {
		if t.UserID != userID {
			continue
		}
		if before != nil {
			after := t.CreatedAt.After(before.CreatedAt) ||
				(t.CreatedAt.Equal(before.CreatedAt) && t.ID >= before.ID)
			if after {
				continue
			}
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListTransactionsByPayment(ctx context.Context, _ store.Querier, paymentID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.txns {
		if t.PaymentID == paymentID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}
