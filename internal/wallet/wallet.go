// Package wallet tracks provider balances on the platform.
//
// Flow:
//  1. Customer funds are held in escrow (no wallet involvement)
//  2. Settlement releases the net payout to the provider's wallet
//  3. Provider withdraws their balance
//
// Every balance change appends a Transaction to the ledger; entries are
// never mutated or deleted after creation.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/pagination"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCursor     = errors.New("invalid pagination cursor")
)

// TxType classifies a ledger transaction.
type TxType string

const (
	TxEscrowIn  TxType = "escrow_in"  // customer funds held in escrow
	TxEscrowOut TxType = "escrow_out" // escrow released to provider wallet
	TxRefund    TxType = "refund"     // escrow returned to customer
	TxPayment   TxType = "payment"    // additional customer funds (accepted requote)
	TxWithdraw  TxType = "withdraw"   // provider withdrawal
)

// Wallet is a provider's running balance. Created lazily on first credit.
type Wallet struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"` // minor units, never negative
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID          string    `json:"id"`
	PaymentID   string    `json:"paymentId,omitempty"`
	UserID      string    `json:"userId"`
	Type        TxType    `json:"type"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists wallets and the transaction ledger. Mutations take the
// Querier of the enclosing transaction; balance changes must be atomic
// increments at the storage layer, never read-modify-write.
type Store interface {
	Get(ctx context.Context, q store.Querier, userID string) (*Wallet, error)
	Credit(ctx context.Context, q store.Querier, userID string, amount int64) error
	Debit(ctx context.Context, q store.Querier, userID string, amount int64) error
	RecordTransaction(ctx context.Context, q store.Querier, t *Transaction) error
	ListTransactions(ctx context.Context, q store.Querier, userID string, before *pagination.Cursor, limit int) ([]*Transaction, error)
	ListTransactionsByPayment(ctx context.Context, q store.Querier, paymentID string) ([]*Transaction, error)
}

// NewTransaction builds a ledger entry with a fresh ID.
func NewTransaction(paymentID, userID string, typ TxType, amount int64, description string, now time.Time) *Transaction {
	return &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		PaymentID:   paymentID,
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Status:      "completed",
		Description: description,
		CreatedAt:   now,
	}
}

// Service exposes wallet reads and withdrawals.
type Service struct {
	runner store.Runner
	store  Store
	now    func() time.Time
}

// NewService creates a wallet service.
func NewService(runner store.Runner, st Store) *Service {
	return &Service{runner: runner, store: st, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a user's wallet. A user with no wallet yet sees a zero
// balance rather than an error.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.store.Get(ctx, nil, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return &Wallet{UserID: userID, Balance: 0, UpdatedAt: s.now()}, nil
	}
	return w, err
}

// Withdraw debits the wallet and records a withdrawal transaction
// atomically.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64) (*Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *Wallet
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		if err := s.store.Debit(ctx, q, userID, amount); err != nil {
			return err
		}
		txn := NewTransaction("", userID, TxWithdraw, amount, "wallet withdrawal", s.now())
		if err := s.store.RecordTransaction(ctx, q, txn); err != nil {
			return err
		}
		w, err := s.store.Get(ctx, q, userID)
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns a page of ledger entries for a user, newest first. The
// cursor is the opaque value returned by the previous page, empty for the
// first page.
func (s *Service) History(ctx context.Context, userID, cursor string, limit int) ([]*Transaction, string, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", ErrInvalidCursor
	}

	txns, err := s.store.ListTransactions(ctx, nil, userID, before, limit+1)
	if err != nil {
		return nil, "", err
	}
	txns, next, _ := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return txns, next, nil
}
