package store

import (
	"context"
	"sync"
)

// Memory is the transaction runner for in-memory stores, used in demo mode
// and unit tests. A single mutex serializes all transactions, which gives
// the memory backend serializable semantics for free: no two operations
// ever interleave.
//
// Memory domain stores order their checks before their writes and their
// writes cannot fail, so a returned error never leaves partial state.
type Memory struct {
	mu sync.Mutex
}

// NewMemory creates a memory transaction runner.
func NewMemory() *Memory {
	return &Memory{}
}

// InTx runs fn while holding the global lock. The Querier handle is nil;
// memory stores carry their own state and ignore it.
func (m *Memory) InTx(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(nil)
}
