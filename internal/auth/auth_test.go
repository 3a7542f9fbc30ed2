package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/nexchat/internal/db"
	"github.com/4xmen/nexchat/internal/models"
)

func newTestService(t *testing.T) (*Service, *db.DB) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.GetConn(), "test-secret"), database
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      RegisterInput
		wantErr error
	}{
		{"short username", RegisterInput{Username: "ab", Password: "secret1", FullName: "A B"}, ErrUsernameLength},
		{"long username", RegisterInput{Username: "abcdefghijklmnopqrstuvwxyz0123456", Password: "secret1", FullName: "A"}, ErrUsernameLength},
		{"bad characters", RegisterInput{Username: "bad@name", Password: "secret1", FullName: "A"}, ErrUsernameCharset},
		{"short password", RegisterInput{Username: "alice", Password: "12345", FullName: "Alice"}, ErrPasswordLength},
		{"missing full name", RegisterInput{Username: "alice", Password: "secret1", FullName: "  "}, ErrFullNameRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegisterJoinsGeneralAndRejectsDuplicates(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Username: "alice", Password: "secret1", FullName: "Alice Nguyen", PhoneNumber: "0901",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "Alice Nguyen", user.Name)
	assert.Equal(t, models.StatusOnline, user.Status)
	require.NotNil(t, user.PhoneNumber)
	assert.Equal(t, "0901", *user.PhoneNumber)
	assert.Contains(t, user.Avatar, "ui-avatars.com")

	var member bool
	err = database.GetConn().QueryRow(
		"SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?)",
		db.DefaultChannelID, user.ID,
	).Scan(&member)
	require.NoError(t, err)
	assert.True(t, member)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Password: "secret2", FullName: "Other"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestLoginAndLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "secret1", FullName: "Bob"})
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, created.ID))

	u, err := svc.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, u.Status)

	_, err = svc.Login(ctx, "bob", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u, err = svc.Login(ctx, " bob ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
	assert.Equal(t, models.StatusOnline, u.Status)

	assert.ErrorIs(t, svc.Logout(ctx, 9999), ErrUserNotFound)
}

func TestTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.GenerateToken(42, "carol")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, "carol", claims.Username)

	other := New(nil, "different-secret")
	_, err = other.ValidateToken(token)
	assert.Error(t, err)

	expired := NewWithTokenTTL(nil, "test-secret", time.Nanosecond)
	stale, err := expired.GenerateToken(1, "x")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = svc.ValidateToken(stale)
	assert.Error(t, err)
}
