package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quire/api/internal/session"
	"quire/api/internal/store"
)

func newLocal(t *testing.T) (*Local, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewLocal(s, session.NewMemoryStore(), "test-secret", time.Hour, zap.NewNop()), s
}

func TestLocalSignUpThenSignIn(t *testing.T) {
	p, s := newLocal(t)
	ctx := context.Background()

	created, err := p.SignUp(ctx, SignUpRequest{Email: "alice@example.com", Password: "password123", Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.AccessToken)
	assert.Equal(t, "alice", created.User.Username)

	profile, err := s.GetProfileByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, profile.ID)

	signedIn, err := p.SignIn(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	user, err := p.Verify(ctx, signedIn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, user.ID)
	assert.Equal(t, "alice", user.Username)
}

func TestLocalSignUpErrors(t *testing.T) {
	p, _ := newLocal(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = p.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)
	_, err = p.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "password456"})
	assert.ErrorIs(t, err, ErrEmailRegistered)
}

func TestLocalSignInRejectsBadCredentials(t *testing.T) {
	p, _ := newLocal(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = p.SignIn(ctx, "a@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLocalSignOutRevokesToken(t *testing.T) {
	p, _ := newLocal(t)
	ctx := context.Background()
	sess, err := p.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, sess.AccessToken))
	_, err = p.Verify(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidSession)

	// second sign-out of a dead token is harmless
	assert.NoError(t, p.SignOut(ctx, sess.AccessToken))
	assert.NoError(t, p.SignOut(ctx, "garbage"))
}

func TestLocalUpdatePassword(t *testing.T) {
	p, _ := newLocal(t)
	ctx := context.Background()
	sess, err := p.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	assert.ErrorIs(t, p.UpdatePassword(ctx, sess.AccessToken, "wrong-password", "newpassword1"), ErrInvalidCredentials)
	assert.ErrorIs(t, p.UpdatePassword(ctx, sess.AccessToken, "password123", "short"), ErrWeakPassword)
	require.NoError(t, p.UpdatePassword(ctx, sess.AccessToken, "password123", "newpassword1"))

	_, err = p.SignIn(ctx, "a@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "a@example.com", "newpassword1")
	assert.NoError(t, err)
}

func TestLocalPasswordResetDoesNotRevealAccounts(t *testing.T) {
	p, _ := newLocal(t)
	assert.NoError(t, p.RequestPasswordReset(context.Background(), "nobody@example.com"))
}
