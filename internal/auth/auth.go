// Package auth provides API authentication and role resolution.
//
// Every caller presents an API token. Resolving the token yields an Actor
// (user ID + role); the core operations then gate each state transition and
// settlement call on that actor. Tokens are stored hashed, never raw.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrNoToken      = errors.New("auth: API token required")
	ErrInvalidToken = errors.New("auth: invalid or revoked API token")
	ErrTokenExpired = errors.New("auth: API token expired")
)

// Role identifies what a caller is allowed to do.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// Actor is an authenticated caller.
type Actor struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsParty reports whether the actor is one of the given resource owners or
// an admin. This is the single authorization predicate evaluated at the
// entry of every core operation.
func (a Actor) IsParty(userIDs ...string) bool {
	if a.IsAdmin() {
		return true
	}
	for _, id := range userIDs {
		if id != "" && a.UserID == id {
			return true
		}
	}
	return false
}

// Token is an issued API token. Only the SHA-256 hash is persisted.
type Token struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	UserID    string     `json:"userId"`
	Role      Role       `json:"role"`
	Name      string     `json:"name,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API tokens.
type Store interface {
	Create(ctx context.Context, tok *Token) error
	GetByHash(ctx context.Context, hash string) (*Token, error)
	GetByUser(ctx context.Context, userID string) ([]*Token, error)
	Update(ctx context.Context, tok *Token) error
}

// Manager issues and resolves API tokens.
type Manager struct {
	store Store
}

// NewManager creates a token manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Issue creates a token for a user. The raw token is returned once and
// never stored.
func (m *Manager) Issue(ctx context.Context, userID string, role Role, name string) (string, *Token, error) {
	if !role.Valid() {
		return "", nil, errors.New("auth: unknown role")
	}

	raw := generateToken()
	tok := &Token{
		ID:        generateTokenID(),
		Hash:      HashToken(raw),
		UserID:    userID,
		Role:      role,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, tok); err != nil {
		return "", nil, err
	}
	return raw, tok, nil
}

// Bootstrap registers a pre-shared raw token as an admin credential.
// Used at startup to seed the operator token from configuration; a
// duplicate of an already-registered token is not an error.
func (m *Manager) Bootstrap(ctx context.Context, raw, userID string) error {
	hash := HashToken(raw)
	if _, err := m.store.GetByHash(ctx, hash); err == nil {
		return nil
	}
	tok := &Token{
		ID:        generateTokenID(),
		Hash:      hash,
		UserID:    userID,
		Role:      RoleAdmin,
		Name:      "bootstrap",
		CreatedAt: time.Now(),
	}
	return m.store.Create(ctx, tok)
}

// Resolve maps a raw token to the Actor it authenticates.
func (m *Manager) Resolve(ctx context.Context, raw string) (Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Actor{}, ErrNoToken
	}

	tok, err := m.store.GetByHash(ctx, HashToken(raw))
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	if tok.Revoked {
		return Actor{}, ErrInvalidToken
	}
	if tok.ExpiresAt != nil && time.Now().After(*tok.ExpiresAt) {
		return Actor{}, ErrTokenExpired
	}

	tok.LastUsed = time.Now()
	_ = m.store.Update(ctx, tok) // best-effort bookkeeping

	return Actor{UserID: tok.UserID, Role: tok.Role}, nil
}

// Revoke disables a token by ID for the given user.
func (m *Manager) Revoke(ctx context.Context, userID, tokenID string) error {
	toks, err := m.store.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, tok := range toks {
		if tok.ID == tokenID {
			tok.Revoked = true
			return m.store.Update(ctx, tok)
		}
	}
	return ErrInvalidToken
}

// HashToken returns the hex SHA-256 of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return "fxp_" + hex.EncodeToString(b)
}

func generateTokenID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return "tok_" + hex.EncodeToString(b)
}
