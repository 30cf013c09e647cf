// Package store provides the transactional boundary shared by all domain
// stores.
//
// Every operation that touches more than one entity (booking + payment,
// payment + wallet + transaction log) runs inside a single Runner.InTx
// scope. The Querier handle passed to the callback is the one transaction
// the whole operation commits or rolls back with: domain stores never hold
// their own connection for writes.
package store

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrConflict reports that a concurrent transaction changed the same
	// row first. Callers may safely retry the whole operation.
	ErrConflict = errors.New("store: concurrent update conflict")

	// ErrDuplicate reports a uniqueness violation (e.g. a second payment
	// for the same booking).
	ErrDuplicate = errors.New("store: duplicate record")
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Memory-backed stores ignore it and carry their own state.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Runner scopes a function to one atomic transaction. If fn returns an
// error the transaction is rolled back in full and the error is returned;
// no partial state is ever committed.
type Runner interface {
	InTx(ctx context.Context, fn func(q Querier) error) error
}
