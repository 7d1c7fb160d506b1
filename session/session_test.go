package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/session"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(session.NewMemoryOperators(), session.NewMemoryRevocations(), "test-secret", time.Hour)
	_, err := m.Register(context.Background(), "Ops@Example.com", "Ops", "admin", "correct-horse")
	require.NoError(t, err)
	return m
}

func TestManager_LoginAndAuthenticate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	login, err := m.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
	assert.NotEmpty(t, login.ID)
	assert.Equal(t, "admin", login.Role)
	assert.True(t, login.ExpiresAt.After(login.IssuedAt))

	sess, err := m.Authenticate(ctx, "Bearer "+login.Token)
	require.NoError(t, err)
	assert.Equal(t, login.OperatorID, sess.OperatorID)
	assert.Equal(t, login.ID, sess.ID)
	assert.Equal(t, "ops@example.com", sess.Email)
}

func TestManager_Login_WrongPassword(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Login(context.Background(), "ops@example.com", "wrong")
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
	assert.ErrorIs(t, err, session.ErrUnauthorized)

	_, err = m.Login(context.Background(), "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
}

func TestManager_Register_ShortPassword(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Register(context.Background(), "new@example.com", "New", "operator", "short")
	assert.Error(t, err)
}

func TestManager_Logout_RevokesToken(t *testing.T) {
	// GIVEN: A logged-in operator
	// WHEN: The operator logs out
	// THEN: The same token is rejected afterwards

	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, sess))

	_, err = m.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrUnauthorized)
}

func TestManager_Invalidate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, "Bearer "+sess.Token))

	_, err = m.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrUnauthorized)

	// Garbage is not an error; there is nothing to revoke.
	assert.NoError(t, m.Invalidate(ctx, "not-a-token"))
}

func TestManager_Authenticate_Expired(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	m.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrUnauthorized)
}

func TestManager_Authenticate_WrongSecret(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	other := session.NewManager(m.Operators, nil, "another-secret", time.Hour)
	_, err = other.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrUnauthorized)
}

func TestMemoryRevocations_ExpireWithToken(t *testing.T) {
	revs := session.NewMemoryRevocations()
	ctx := context.Background()

	require.NoError(t, revs.Revoke(ctx, "live", time.Now().Add(time.Hour)))
	require.NoError(t, revs.Revoke(ctx, "gone", time.Now().Add(-time.Minute)))

	revoked, err := revs.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = revs.IsRevoked(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := session.WithSession(context.Background(), session.Session{OperatorID: "op-1"})

	s, ok := session.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "op-1", s.OperatorID)

	_, ok = session.FromContext(context.Background())
	assert.False(t, ok)
}
