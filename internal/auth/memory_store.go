package auth

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory token store for demo/development mode.
type MemoryStore struct {
	byHash map[string]*Token
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Token)}
}

func (m *MemoryStore) Create(ctx context.Context, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tok
	m.byHash[tok.Hash] = &cp
	return nil
}

func (m *MemoryStore) GetByHash(ctx context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.byHash[hash]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := *tok
	return &cp, nil
}

func (m *MemoryStore) GetByUser(ctx context.Context, userID string) ([]*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Token
	for _, tok := range m.byHash {
		if tok.UserID == userID {
			cp := *tok
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[tok.Hash]; !ok {
		return ErrInvalidToken
	}
	cp := *tok
	m.byHash[tok.Hash] = &cp
	return nil
}
