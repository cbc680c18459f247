// Package auth implements account signup, password login and bearer token
// verification. Passwords are bcrypt-hashed and tokens are HS256 JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

const tokenType = "bearer"

var (
	errBadCredentials = apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "Incorrect email or password")
	errInactive       = apperrors.New(apperrors.ErrForbidden, http.StatusForbidden, "Account is inactive")
	errInvalidToken   = apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "Invalid authentication credentials")
)

// Claims is the token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Session is returned by Signup and Login.
type Session struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	User        Profile `json:"user"`
}

// Profile is the caller-visible view of a user. It never carries the
// password hash.
type Profile struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Tier      store.Tier `json:"subscription_tier"`
	Credits   int        `json:"idea_credits"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func NewProfile(u *store.User) Profile {
	return Profile{
		UserID:    u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Tier:      u.Tier,
		Credits:   u.Credits,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
	}
}

type SignupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Service struct {
	users         store.UserStore
	secret        []byte
	ttl           time.Duration
	cost          int
	signupCredits int
	now           func() time.Time
	logger        *slog.Logger
}

func NewService(users store.UserStore, cfg config.AuthConfig, signupCredits int) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	return &Service{
		users:         users,
		secret:        []byte(cfg.JWTSecret),
		ttl:           ttl,
		cost:          cost,
		signupCredits: signupCredits,
		now:           time.Now,
		logger:        slog.Default().With("component", "auth"),
	}, nil
}

// Signup creates a free-tier account and returns a session for it. A taken
// email fails with ErrConflict.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Session, error) {
	email, err := validEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "password is too long")
		}
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &store.User{
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
		Tier:         store.TierFree,
		Credits:      s.signupCredits,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.New(apperrors.ErrConflict, http.StatusConflict, "Email already registered")
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	s.logger.Info("user signed up", "user_id", u.ID)
	return s.session(u)
}

// Login checks the password and records the login time.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	u, err := s.users.FindUserByEmail(ctx, store.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, errBadCredentials
	}
	if !u.IsActive {
		return nil, errInactive
	}

	now := s.now().UTC()
	updated, err := s.users.UpdateUser(ctx, u.ID, store.UserUpdate{LastLogin: &now})
	if err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	return s.session(updated)
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "User not found")
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !u.IsActive {
		return nil, apperrors.New(apperrors.ErrForbidden, http.StatusForbidden, "Inactive user account")
	}
	return u, nil
}

// IssueToken signs a token for u valid for the configured TTL.
func (s *Service) IssueToken(u *store.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: u.ID,
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, algorithm and expiry.
func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.UserID == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

func (s *Service) session(u *store.User) (*Session, error) {
	token, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, TokenType: tokenType, User: NewProfile(u)}, nil
}

func validEmail(raw string) (string, error) {
	email := store.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "a valid email is required")
	}
	return email, nil
}
