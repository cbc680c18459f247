package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

type staticAuth map[string]*store.User

func (s staticAuth) Authenticate(_ context.Context, token string) (*store.User, error) {
	if u, ok := s[token]; ok {
		if !u.IsActive {
			return nil, apperrors.New(apperrors.ErrForbidden, http.StatusForbidden, "Inactive user account")
		}
		return u, nil
	}
	return nil, apperrors.ErrUnauthorized
}

func whoami(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(User(r.Context()).ID))
}

func TestAuth(t *testing.T) {
	h := Auth(staticAuth{
		"good": {ID: "u1", IsActive: true},
		"off":  {ID: "u2"},
	})(http.HandlerFunc(whoami))

	cases := []struct {
		header string
		status int
		body   string
	}{
		{"", http.StatusUnauthorized, "Not authenticated"},
		{"Basic abc", http.StatusUnauthorized, "Not authenticated"},
		{"Bearer nope", http.StatusUnauthorized, "Invalid authentication credentials"},
		{"Bearer off", http.StatusForbidden, "Inactive user account"},
		{"bearer good", http.StatusOK, "u1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.header)
		assert.Contains(t, rec.Body.String(), tc.body, tc.header)
	}
}

type countLimiter struct{ left map[string]int }

func (c *countLimiter) Allow(_ context.Context, key string) bool {
	if c.left[key] <= 0 {
		return false
	}
	c.left[key]--
	return true
}

func TestRateLimitKeysByUserThenIP(t *testing.T) {
	lim := &countLimiter{left: map[string]int{"user:u1": 1, "ip:10.0.0.1": 1}}
	h := RateLimit(lim)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed = authed.WithContext(WithUser(authed.Context(), &store.User{ID: "u1"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	anon := httptest.NewRequest(http.MethodPost, "/generate", nil)
	anon.RemoteAddr = "10.0.0.1:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, anon)
	assert.Equal(t, http.StatusOK, rec.Code)

	anon.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	assert.Equal(t, "ip:10.0.0.9", RateLimitKey(anon))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(DefaultCORSConfig("chrome-extension://abc"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "chrome-extension://abc", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
