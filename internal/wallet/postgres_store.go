package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/pagination"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// PostgresStore implements Store with PostgreSQL. Balance changes are
// single-statement increments; the CHECK constraint on balance >= 0
// prevents overdraft at the database level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// q returns the transaction handle when inside one, else the bare DB.
func (p *PostgresStore) q(q store.Querier) store.Querier {
	if q != nil {
		return q
	}
	return p.db
}

func (p *PostgresStore) Get(ctx context.Context, q store.Querier, userID string) (*Wallet, error) {
	w := &Wallet{}
	err := p.q(q).QueryRowContext(ctx, `
		SELECT id, user_id, balance, created_at, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) Credit(ctx context.Context, q store.Querier, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	// Upsert with a native increment: lazily creates the wallet and is
	// safe under concurrent releases for the same provider.
	_, err := p.q(q).ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance    = wallets.balance + $3,
			updated_at = NOW()
	`, idgen.WithPrefix("wal_"), userID, amount)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) Debit(ctx context.Context, q store.Querier, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := p.q(q).ExecContext(ctx, `
		UPDATE wallets SET
			balance    = balance - $2,
			updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Distinguish a missing wallet from an overdraft attempt.
		var exists bool
		err := p.q(q).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

func (p *PostgresStore) RecordTransaction(ctx context.Context, q store.Querier, t *Transaction) error {
	_, err := p.q(q).ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, payment_id, user_id, type, amount, status, description, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
	`, t.ID, t.PaymentID, t.UserID, t.Type, t.Amount, t.Status, t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListTransactions(ctx context.Context, q store.Querier, userID string, before *pagination.Cursor, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, COALESCE(payment_id, ''), user_id, type, amount, status, COALESCE(description, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	args := []any{userID, limit}
	if before != nil {
		query = `
			SELECT id, COALESCE(payment_id, ''), user_id, type, amount, status, COALESCE(description, ''), created_at
			FROM wallet_transactions
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`
		args = []any{userID, before.CreatedAt, before.ID, limit}
	}

	rows, err := p.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (p *PostgresStore) ListTransactionsByPayment(ctx context.Context, q store.Querier, paymentID string) ([]*Transaction, error) {
	rows, err := p.q(q).QueryContext(ctx, `
		SELECT id, COALESCE(payment_id, ''), user_id, type, amount, status, COALESCE(description, ''), created_at
		FROM wallet_transactions
		WHERE payment_id = $1
		ORDER BY created_at
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.UserID, &t.Type, &t.Amount,
			&t.Status, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
