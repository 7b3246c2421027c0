package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CreateAndLookup(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateParams{Username: "ops", Email: "ops@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)
	assert.True(t, CheckPassword("password123", u.PasswordHash))

	found, err := svc.GetByUsername(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = svc.Create(ctx, CreateParams{Username: "ops", Password: "password123"})
	assert.ErrorIs(t, err, ErrUsernameExists)

	_, err = svc.Create(ctx, CreateParams{Username: "root", Password: "password123", Role: "superuser"})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestService_EnsureDefaultAdmin(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	generated, created, err := svc.EnsureDefaultAdmin(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, generated)

	admin, err := svc.GetByUsername(ctx, DefaultAdminUsername)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role)
	assert.True(t, CheckPassword(generated, admin.PasswordHash))

	generated, created, err = svc.EnsureDefaultAdmin(ctx, "another-password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, generated)
}

func TestService_ListAndDelete(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateParams{Username: "a", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{Username: "b", Password: "password123"})
	require.NoError(t, err)

	list, total, err := svc.ListUsers(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 1)

	require.NoError(t, svc.RecordLogin(ctx, a.ID))
	got, err := svc.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLogin)

	require.NoError(t, svc.DeleteUser(ctx, a.ID))
	assert.ErrorIs(t, svc.DeleteUser(ctx, a.ID), ErrUserNotFound)
}
