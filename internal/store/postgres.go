package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres runs transactions against a PostgreSQL database at serializable
// isolation. Serialization failures are surfaced as ErrConflict so callers
// can retry.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres transaction runner.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB returns the underlying handle for transaction-free reads.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// InTx runs fn inside a serializable transaction, committing on success and
// rolling back on error.
func (p *Postgres) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return translatePQ(err)
	}
	if err := tx.Commit(); err != nil {
		return translatePQ(err)
	}
	return nil
}

// translatePQ maps driver error codes onto the store sentinels.
func translatePQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}
