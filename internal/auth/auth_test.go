package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndResolve(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, tok, err := m.Issue(ctx, "usr_1", RoleProvider, "cli")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, HashToken(raw), tok.Hash)

	actor, err := m.Resolve(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", actor.UserID)
	assert.Equal(t, RoleProvider, actor.Role)
}

func TestResolve_Invalid(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, err := m.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = m.Resolve(ctx, "fxp_bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolve_Revoked(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, tok, err := m.Issue(ctx, "usr_2", RoleCustomer, "")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, "usr_2", tok.ID))

	_, err = m.Resolve(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolve_Expired(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	raw, tok, err := m.Issue(ctx, "usr_3", RoleCustomer, "")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	tok.ExpiresAt = &past
	require.NoError(t, store.Update(ctx, tok))

	_, err = m.Resolve(ctx, raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestActor_IsParty(t *testing.T) {
	customer := Actor{UserID: "cus_1", Role: RoleCustomer}
	provider := Actor{UserID: "pro_1", Role: RoleProvider}
	admin := Actor{UserID: "adm_1", Role: RoleAdmin}

	assert.True(t, customer.IsParty("cus_1", "pro_1"))
	assert.True(t, provider.IsParty("cus_1", "pro_1"))
	assert.False(t, provider.IsParty("cus_1", "pro_2"))
	assert.True(t, admin.IsParty("cus_1", "pro_1"))
	assert.True(t, admin.IsParty())
	assert.False(t, customer.IsParty(""))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleCustomer.Valid())
	assert.True(t, RoleProvider.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("superuser").Valid())
}
