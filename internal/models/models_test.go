package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestUser_Identity_DefaultRole(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	u := &User{ID: id, Email: "a@b.com"}
	require.Equal(t, Identity{ID: id, Email: "a@b.com", Role: RoleUser}, u.Identity())

	u.Role = RoleAdmin
	require.Equal(t, RoleAdmin, u.Identity().Role)
}

func TestProfileUpdate_Empty(t *testing.T) {
	t.Parallel()

	require.True(t, ProfileUpdate{}.Empty())
	name := "Ada"
	require.False(t, ProfileUpdate{FullName: &name}.Empty())
}

func TestPasswordResetToken_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.False(t, PasswordResetToken{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	require.True(t, PasswordResetToken{ExpiresAt: now.Add(-time.Second)}.Expired(now))
}
