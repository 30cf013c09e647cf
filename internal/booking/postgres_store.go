package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// PostgresStore implements Store with PostgreSQL. Line items are stored as
// a JSONB column; the status trail lives in booking_status_updates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) q(q store.Querier) store.Querier {
	if q != nil {
		return q
	}
	return p.db
}

const bookingColumns = `
	id, customer_id, provider_id, line_items, total_amount, status,
	cancellation_fee, scheduled_at, actual_arrival, completion_time,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, q store.Querier, b *Booking) error {
	items, err := json.Marshal(b.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	_, err = p.q(q).ExecContext(ctx, `
		INSERT INTO bookings (id, customer_id, provider_id, line_items,
			total_amount, status, cancellation_fee, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.CustomerID, b.ProviderID, items, b.TotalAmount, b.Status,
		b.CancellationFee, b.ScheduledAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, q store.Querier, id string) (*Booking, error) {
	row := p.q(q).QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// Update writes the booking only if the row still holds the expected
// status; zero affected rows surfaces as store.ErrConflict.
func (p *PostgresStore) Update(ctx context.Context, q store.Querier, b *Booking, expect Status) error {
	items, err := json.Marshal(b.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	res, err := p.q(q).ExecContext(ctx, `
		UPDATE bookings SET
			line_items       = $3,
			total_amount     = $4,
			status           = $5,
			cancellation_fee = $6,
			actual_arrival   = $7,
			completion_time  = $8,
			updated_at       = $9
		WHERE id = $1 AND status = $2
	`, b.ID, expect, items, b.TotalAmount, b.Status, b.CancellationFee,
		b.ActualArrival, b.CompletionTime, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := p.q(q).QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, b.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrBookingNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, q store.Querier, userID string, limit int) ([]*Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.q(q).QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE customer_id = $1 OR provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBookingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendStatusUpdate(ctx context.Context, q store.Querier, u *StatusUpdate) error {
	_, err := p.q(q).ExecContext(ctx, `
		INSERT INTO booking_status_updates (id, booking_id, from_status,
			to_status, actor_id, actor_role, note, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8)
	`, u.ID, u.BookingID, u.FromStatus, u.ToStatus, u.ActorID, u.ActorRole,
		u.Note, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("append status update: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListStatusUpdates(ctx context.Context, q store.Querier, bookingID string) ([]*StatusUpdate, error) {
	rows, err := p.q(q).QueryContext(ctx, `
		SELECT id, booking_id, COALESCE(from_status, ''), to_status,
			actor_id, actor_role, COALESCE(note, ''), created_at
		FROM booking_status_updates
		WHERE booking_id = $1
		ORDER BY created_at ASC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list status updates: %w", err)
	}
	defer rows.Close()

	var out []*StatusUpdate
	for rows.Next() {
		u := &StatusUpdate{}
		if err := rows.Scan(&u.ID, &u.BookingID, &u.FromStatus, &u.ToStatus,
			&u.ActorID, &u.ActorRole, &u.Note, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookingInto(sc rowScanner) (*Booking, error) {
	b := &Booking{}
	var items []byte
	var scheduledAt, actualArrival, completionTime sql.NullTime
	err := sc.Scan(&b.ID, &b.CustomerID, &b.ProviderID, &items, &b.TotalAmount,
		&b.Status, &b.CancellationFee, &scheduledAt, &actualArrival,
		&completionTime, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &b.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		b.ScheduledAt = &t
	}
	if actualArrival.Valid {
		t := actualArrival.Time
		b.ActualArrival = &t
	}
	if completionTime.Valid {
		t := completionTime.Time
		b.CompletionTime = &t
	}
	return b, nil
}

func scanBooking(row *sql.Row) (*Booking, error) {
	b, err := scanBookingInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func scanBookingRows(rows *sql.Rows) (*Booking, error) {
	return scanBookingInto(rows)
}
