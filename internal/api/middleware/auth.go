// Package middleware provides HTTP middleware for the API including bearer
// authentication, CORS, and rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/logger"
)

type contextKey string

const userKey contextKey = "user"

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*store.User, error)
}

// Auth rejects requests without a valid "Authorization: Bearer <token>"
// header and stores the resolved user in the request context.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			u, err := a.Authenticate(r.Context(), token)
			if err != nil {
				status := apperrors.HTTPStatusCode(err)
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				if status >= http.StatusInternalServerError {
					logger.FromContext(r.Context()).Error("authentication failed", "error", err)
				}
				writeError(w, status, apperrors.PublicMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// User returns the authenticated user, or nil.
func User(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey).(*store.User)
	return u
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
