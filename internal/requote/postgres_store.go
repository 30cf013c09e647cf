package requote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// PostgresStore implements Store with PostgreSQL. A partial unique index on
// (booking_id) WHERE status = 'pending' enforces the one-pending-requote
// invariant at the storage layer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed requote store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) q(q store.Querier) store.Querier {
	if q != nil {
		return q
	}
	return p.db
}

const requoteColumns = `
	id, booking_id, original_amount, new_amount, COALESCE(reason, ''),
	status, responded_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, q store.Querier, r *Requote) error {
	_, err := p.q(q).ExecContext(ctx, `
		INSERT INTO requotes (id, booking_id, original_amount, new_amount,
			reason, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, r.ID, r.BookingID, r.OriginalAmount, r.NewAmount, r.Reason, r.Status, r.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPendingExists
		}
		return fmt.Errorf("create requote: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, q store.Querier, id string) (*Requote, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+requoteColumns+` FROM requotes WHERE id = $1`, id)
	return scanRequote(row.Scan)
}

func (p *PostgresStore) GetPendingByBooking(ctx context.Context, q store.Querier, bookingID string) (*Requote, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+requoteColumns+` FROM requotes WHERE booking_id = $1 AND status = 'pending'`,
		bookingID)
	return scanRequote(row.Scan)
}

// Update writes the requote only if the row still holds the expected
// status; zero affected rows surfaces as store.ErrConflict.
func (p *PostgresStore) Update(ctx context.Context, q store.Querier, r *Requote, expect Status) error {
	res, err := p.q(q).ExecContext(ctx, `
		UPDATE requotes SET status = $3, responded_at = $4
		WHERE id = $1 AND status = $2
	`, r.ID, expect, r.Status, r.RespondedAt)
	if err != nil {
		return fmt.Errorf("update requote: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := p.q(q).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM requotes WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRequoteNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListByBooking(ctx context.Context, q store.Querier, bookingID string) ([]*Requote, error) {
	rows, err := p.q(q).QueryContext(ctx,
		`SELECT `+requoteColumns+` FROM requotes WHERE booking_id = $1 ORDER BY created_at ASC`,
		bookingID)
	if err != nil {
		return nil, fmt.Errorf("list requotes: %w", err)
	}
	defer rows.Close()

	var out []*Requote
	for rows.Next() {
		r, err := scanRequote(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequote(scan func(dest ...any) error) (*Requote, error) {
	r := &Requote{}
	var respondedAt sql.NullTime
	err := scan(&r.ID, &r.BookingID, &r.OriginalAmount, &r.NewAmount,
		&r.Reason, &r.Status, &respondedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRequoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		r.RespondedAt = &t
	}
	return r, nil
}
