// Package store defines the user and idea persistence contract shared by the
// relational, document and embedded backends.
package store

import (
	"context"
	"strings"
	"time"
)

// Tier is a user's subscription tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// ParseTier normalises s into a known Tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, true
	case TierPro:
		return TierPro, true
	}
	return "", false
}

// User is an account that owns ideas and spends credits.
type User struct {
	ID           string     `json:"id"`
	ExternalID   string     `json:"user_id,omitempty"`
	Email        string     `json:"email,omitempty"`
	FullName     string     `json:"full_name,omitempty"`
	PasswordHash string     `json:"hashed_password,omitempty"`
	Tier         Tier       `json:"subscription_tier"`
	Credits      int        `json:"idea_credits"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Metered reports whether generation requests consume the user's credits.
func (u *User) Metered() bool {
	return u.Tier != TierPro
}

// Idea is one persisted generation result.
type Idea struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Problem     string    `json:"problem"`
	Solution    string    `json:"solution"`
	SourceURL   string    `json:"source_url,omitempty"`
	Result      string    `json:"result"`
	IsStarred   bool      `json:"is_starred"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewIdea is the input for persisting an Idea.
type NewIdea struct {
	Name      string
	Problem   string
	Solution  string
	SourceURL string
	Result    string
}

// UserUpdate lists the fields UpdateUser may change. Nil fields are left as
// they are; AddCredits is applied as an atomic increment.
type UserUpdate struct {
	Tier       *Tier
	AddCredits int
	FullName   *string
	IsActive   *bool
	LastLogin  *time.Time
}

// Commit is the outcome of CommitGeneration.
type Commit struct {
	Ideas            []Idea
	CreditsRemaining int
}

// UserStore exposes account lookups and updates.
type UserStore interface {
	// CreateUser persists u, assigning an ID and CreatedAt when empty.
	// Duplicate email or external id fails with errors.ErrConflict.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByExternalID(ctx context.Context, externalID string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
}

// IdeaStore exposes generation history. An empty ownerID disables the
// ownership check; a non-empty one turns ideas of other owners into
// errors.ErrNotFound.
type IdeaStore interface {
	// ListIdeas returns the owner's ideas newest first. limit <= 0 means all.
	ListIdeas(ctx context.Context, ownerID string, limit int) ([]Idea, error)
	GetIdea(ctx context.Context, id int64) (*Idea, error)
	ToggleStar(ctx context.Context, id int64, ownerID string) (*Idea, error)
	DeleteIdea(ctx context.Context, id int64, ownerID string) error
}

// Store is the full persistence capability used by the generation service.
type Store interface {
	UserStore
	IdeaStore

	// CommitGeneration persists ideas for userID and, when deduct is set,
	// decrements the user's credits by one under the precondition that they
	// are positive. Both happen atomically: on errors.ErrInsufficientCredits
	// nothing is written.
	CommitGeneration(ctx context.Context, userID string, ideas []NewIdea, deduct bool) (*Commit, error)

	Ping(ctx context.Context) error
	Close() error
}

// NormalizeEmail lower-cases and trims an email for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ApplyUpdate mutates u in place according to upd. Backends that store
// users as documents share it.
func ApplyUpdate(u *User, upd UserUpdate) {
	if upd.Tier != nil {
		u.Tier = *upd.Tier
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.LastLogin != nil {
		t := *upd.LastLogin
		u.LastLogin = &t
	}
	u.Credits += upd.AddCredits
}
