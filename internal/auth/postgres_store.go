package auth

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tok *Token) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, hash, user_id, role, name, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tok.ID, tok.Hash, tok.UserID, tok.Role, tok.Name, tok.CreatedAt, tok.ExpiresAt, tok.Revoked)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*Token, error) {
	tok := &Token{}
	var lastUsed, expiresAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, user_id, role, name, created_at, last_used, expires_at, revoked
		FROM api_tokens WHERE hash = $1
	`, hash).Scan(&tok.ID, &tok.Hash, &tok.UserID, &tok.Role, &tok.Name,
		&tok.CreatedAt, &lastUsed, &expiresAt, &tok.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		tok.LastUsed = lastUsed.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		tok.ExpiresAt = &t
	}
	return tok, nil
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID string) ([]*Token, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, user_id, role, name, created_at, last_used, expires_at, revoked
		FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Token
	for rows.Next() {
		tok := &Token{}
		var lastUsed, expiresAt sql.NullTime
		if err := rows.Scan(&tok.ID, &tok.Hash, &tok.UserID, &tok.Role, &tok.Name,
			&tok.CreatedAt, &lastUsed, &expiresAt, &tok.Revoked); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			tok.LastUsed = lastUsed.Time
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			tok.ExpiresAt = &t
		}
		result = append(result, tok)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, tok *Token) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE api_tokens SET last_used = $2, revoked = $3 WHERE id = $1
	`, tok.ID, tok.LastUsed, tok.Revoked)
	return err
}
