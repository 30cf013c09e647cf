package notify

import (
	"context"
	"database/sql"
)

// PostgresStore implements SubscriptionStore with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, user_id, url, secret, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.UserID, sub.URL, sub.Secret, sub.Active, sub.CreatedAt)
	return err
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, url, secret, active, created_at, last_success, last_error
		FROM webhook_subscriptions WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		var lastSuccess sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.URL, &sub.Secret,
			&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError); err != nil {
			return nil, err
		}
		if lastSuccess.Valid {
			t := lastSuccess.Time
			sub.LastSuccess = &t
		}
		sub.LastError = lastError.String
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET active = $2, last_success = $3, last_error = NULLIF($4, '')
		WHERE id = $1
	`, sub.ID, sub.Active, sub.LastSuccess, sub.LastError)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return err
}
