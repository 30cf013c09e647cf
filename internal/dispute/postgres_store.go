package dispute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// PostgresStore implements Store with PostgreSQL. The unique index on
// booking_id enforces the one-dispute-per-booking invariant; attachments
// are a TEXT[] column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) q(q store.Querier) store.Querier {
	if q != nil {
		return q
	}
	return p.db
}

const disputeColumns = `
	id, booking_id, raised_by, title, COALESCE(description, ''), status,
	COALESCE(resolution, ''), COALESCE(admin_id, ''), attachments,
	resolved_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, q store.Querier, d *Dispute) error {
	_, err := p.q(q).ExecContext(ctx, `
		INSERT INTO disputes (id, booking_id, raised_by, title, description,
			status, attachments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`, d.ID, d.BookingID, d.RaisedBy, d.Title, d.Description, d.Status,
		pq.Array(d.Attachments), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyOpen
		}
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, q store.Querier, id string) (*Dispute, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row.Scan)
}

func (p *PostgresStore) GetByBooking(ctx context.Context, q store.Querier, bookingID string) (*Dispute, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE booking_id = $1`, bookingID)
	return scanDispute(row.Scan)
}

// Update writes the dispute only if the row still holds the expected
// status; zero affected rows surfaces as store.ErrConflict.
func (p *PostgresStore) Update(ctx context.Context, q store.Querier, d *Dispute, expect Status) error {
	res, err := p.q(q).ExecContext(ctx, `
		UPDATE disputes SET
			status      = $3,
			resolution  = NULLIF($4, ''),
			admin_id    = NULLIF($5, ''),
			resolved_at = $6,
			updated_at  = $7
		WHERE id = $1 AND status = $2
	`, d.ID, expect, d.Status, d.Resolution, d.AdminID, d.ResolvedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := p.q(q).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM disputes WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrDisputeNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListOpen(ctx context.Context, q store.Querier, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.q(q).QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status IN ('pending', 'in_review')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open disputes: %w", err)
	}
	defer rows.Close()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDispute(scan func(dest ...any) error) (*Dispute, error) {
	d := &Dispute{}
	var resolvedAt sql.NullTime
	err := scan(&d.ID, &d.BookingID, &d.RaisedBy, &d.Title, &d.Description,
		&d.Status, &d.Resolution, &d.AdminID, pq.Array(&d.Attachments),
		&resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}
