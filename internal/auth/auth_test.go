package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/internal/store/memory"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc, err := NewService(st, config.AuthConfig{
		JWTSecret:  "test-secret",
		TokenTTL:   30 * 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, 5)
	require.NoError(t, err)
	return svc, st
}

func TestSignupGrantsFreeCredits(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	sess, err := svc.Signup(ctx, SignupRequest{FullName: " Ada ", Email: "Ada@Example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", sess.TokenType)
	assert.Equal(t, "ada@example.com", sess.User.Email)
	assert.Equal(t, "Ada", sess.User.FullName)
	assert.Equal(t, store.TierFree, sess.User.Tier)
	assert.Equal(t, 5, sess.User.Credits)

	u, err := st.GetUser(ctx, sess.User.UserID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", u.PasswordHash)
	assert.True(t, u.IsActive)

	_, err = svc.Signup(ctx, SignupRequest{Email: "ada@example.com", Password: "x"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, 409, apperrors.HTTPStatusCode(err))
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newService(t)
	for _, req := range []SignupRequest{
		{Email: "not-an-email", Password: "pw"},
		{Email: "Ada <ada@example.com>", Password: "pw"},
		{Email: "ada@example.com"},
	} {
		_, err := svc.Signup(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, req.Email)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "x"})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	sess, err := svc.Login(ctx, LoginRequest{Email: " BOB@example.com", Password: "correct horse"})
	require.NoError(t, err)
	require.NotNil(t, sess.User.LastLogin)

	u, err := svc.Authenticate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.UserID, u.ID)
}

func TestInactiveAccounts(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	sess, err := svc.Signup(ctx, SignupRequest{Email: "carol@example.com", Password: "pw"})
	require.NoError(t, err)

	off := false
	_, err = st.UpdateUser(ctx, sess.User.UserID, store.UserUpdate{IsActive: &off})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Email: "carol@example.com", Password: "pw"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = svc.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestTokenExpiryAndTampering(t *testing.T) {
	svc, _ := newService(t)
	u := &store.User{ID: "u-1", Email: "d@example.com"}
	token, err := svc.IssueToken(u)
	require.NoError(t, err)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), claims.ExpiresAt.Time, time.Minute)

	svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	svc.now = time.Now

	_, err = svc.ParseToken(token + "x")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u-1"}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = svc.ParseToken(other)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ParseToken(none)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestUnknownUserToken(t *testing.T) {
	svc, _ := newService(t)
	token, err := svc.IssueToken(&store.User{ID: "ghost"})
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
