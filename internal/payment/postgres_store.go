package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) q(q store.Querier) store.Querier {
	if q != nil {
		return q
	}
	return p.db
}

const paymentColumns = `
	id, booking_id, customer_id, provider_id, amount, platform_fee, status,
	COALESCE(method, ''), COALESCE(escrow_number, ''), refund_amount,
	COALESCE(refund_reason, ''), escrow_date, release_date, refund_date,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, q store.Querier, pay *Payment) error {
	_, err := p.q(q).ExecContext(ctx, `
		INSERT INTO payments (id, booking_id, customer_id, provider_id, amount,
			platform_fee, status, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pay.ID, pay.BookingID, pay.CustomerID, pay.ProviderID, pay.Amount,
		pay.PlatformFee, pay.Status, pay.RefundAmount, pay.CreatedAt, pay.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, q store.Querier, id string) (*Payment, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (p *PostgresStore) GetByBooking(ctx context.Context, q store.Querier, bookingID string) (*Payment, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID)
	return scanPayment(row)
}

// Update writes the payment only if the row still holds the expected
// status; zero affected rows surfaces as store.ErrConflict.
func (p *PostgresStore) Update(ctx context.Context, q store.Querier, pay *Payment, expect Status) error {
	res, err := p.q(q).ExecContext(ctx, `
		UPDATE payments SET
			amount        = $3,
			platform_fee  = $4,
			status        = $5,
			method        = NULLIF($6, ''),
			escrow_number = NULLIF($7, ''),
			refund_amount = $8,
			refund_reason = NULLIF($9, ''),
			escrow_date   = $10,
			release_date  = $11,
			refund_date   = $12,
			updated_at    = $13
		WHERE id = $1 AND status = $2
	`, pay.ID, expect, pay.Amount, pay.PlatformFee, pay.Status, pay.Method,
		pay.EscrowNumber, pay.RefundAmount, pay.RefundReason,
		pay.EscrowDate, pay.ReleaseDate, pay.RefundDate, pay.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Either the row is gone or a concurrent transition won.
		var exists bool
		if err := p.q(q).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, pay.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrPaymentNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func scanPayment(row *sql.Row) (*Payment, error) {
	pay := &Payment{}
	var escrowDate, releaseDate, refundDate sql.NullTime
	err := row.Scan(&pay.ID, &pay.BookingID, &pay.CustomerID, &pay.ProviderID,
		&pay.Amount, &pay.PlatformFee, &pay.Status, &pay.Method, &pay.EscrowNumber,
		&pay.RefundAmount, &pay.RefundReason, &escrowDate, &releaseDate, &refundDate,
		&pay.CreatedAt, &pay.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if escrowDate.Valid {
		t := escrowDate.Time
		pay.EscrowDate = &t
	}
	if releaseDate.Valid {
		t := releaseDate.Time
		pay.ReleaseDate = &t
	}
	if refundDate.Valid {
		t := refundDate.Time
		pay.RefundDate = &t
	}
	return pay, nil
}
