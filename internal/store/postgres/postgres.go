// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/postgres"
)

// Schema is the idempotent DDL applied by Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                TEXT PRIMARY KEY,
		user_id           TEXT UNIQUE,
		email             TEXT UNIQUE,
		full_name         TEXT NOT NULL DEFAULT '',
		hashed_password   TEXT NOT NULL DEFAULT '',
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		idea_credits      INTEGER NOT NULL DEFAULT 5,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login        TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS ideas (
		id           BIGSERIAL PRIMARY KEY,
		owner_id     TEXT NOT NULL REFERENCES users (id),
		name         TEXT NOT NULL DEFAULT '',
		problem      TEXT NOT NULL DEFAULT '',
		solution     TEXT NOT NULL DEFAULT '',
		source_url   TEXT NOT NULL DEFAULT '',
		result       TEXT NOT NULL DEFAULT '',
		is_starred   BOOLEAN NOT NULL DEFAULT FALSE,
		generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ideas_owner_id ON ideas (owner_id, id DESC)`,
}

const userColumns = `id, COALESCE(user_id, ''), COALESCE(email, ''), full_name, hashed_password,
	subscription_tier, idea_credits, is_active, created_at, last_login`

const ideaColumns = `id, owner_id, name, problem, solution, source_url, result, is_starred, generated_at`

type Store struct {
	client *postgres.Client
	now    func() time.Time
}

func New(client *postgres.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.client.Migrate(ctx, Schema)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		u         store.User
		tier      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.FullName, &u.PasswordHash,
		&tier, &u.Credits, &u.IsActive, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Tier = store.Tier(tier)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func scanIdea(row rowScanner) (*store.Idea, error) {
	var idea store.Idea
	err := row.Scan(&idea.ID, &idea.OwnerID, &idea.Name, &idea.Problem, &idea.Solution,
		&idea.SourceURL, &idea.Result, &idea.IsStarred, &idea.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning idea: %w", err)
	}
	return &idea, nil
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	u.Email = store.NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	if u.Tier == "" {
		u.Tier = store.TierFree
	}

	var lastLogin sql.NullTime
	if u.LastLogin != nil {
		lastLogin = sql.NullTime{Time: *u.LastLogin, Valid: true}
	}
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO users (id, user_id, email, full_name, hashed_password, subscription_tier,
			idea_credits, is_active, created_at, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, postgres.NullString(u.ExternalID), postgres.NullString(u.Email), u.FullName,
		u.PasswordHash, string(u.Tier), u.Credits, u.IsActive, u.CreatedAt, lastLogin,
	)
	if postgres.IsUniqueViolation(err) {
		return apperrors.Wrap(apperrors.ErrConflict, err)
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	row := s.client.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := s.client.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, store.NormalizeEmail(email))
	return scanUser(row)
}

func (s *Store) FindUserByExternalID(ctx context.Context, externalID string) (*store.User, error) {
	row := s.client.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, externalID)
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	var tier sql.NullString
	if upd.Tier != nil {
		tier = sql.NullString{String: string(*upd.Tier), Valid: true}
	}
	var fullName sql.NullString
	if upd.FullName != nil {
		fullName = sql.NullString{String: *upd.FullName, Valid: true}
	}
	var active sql.NullBool
	if upd.IsActive != nil {
		active = sql.NullBool{Bool: *upd.IsActive, Valid: true}
	}
	var lastLogin sql.NullTime
	if upd.LastLogin != nil {
		lastLogin = sql.NullTime{Time: *upd.LastLogin, Valid: true}
	}

	row := s.client.DB.QueryRowContext(ctx,
		`UPDATE users SET
			subscription_tier = COALESCE($2, subscription_tier),
			full_name         = COALESCE($3, full_name),
			is_active         = COALESCE($4, is_active),
			last_login        = COALESCE($5, last_login),
			idea_credits      = idea_credits + $6
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, tier, fullName, active, lastLogin, upd.AddCredits,
	)
	return scanUser(row)
}

func (s *Store) ListIdeas(ctx context.Context, ownerID string, limit int) ([]store.Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas WHERE ($1::text = '' OR owner_id = $1) ORDER BY id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.client.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing ideas: %w", err)
	}
	defer rows.Close()

	out := make([]store.Idea, 0)
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ideas: %w", err)
	}
	return out, nil
}

func (s *Store) GetIdea(ctx context.Context, id int64) (*store.Idea, error) {
	row := s.client.DB.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id = $1`, id)
	return scanIdea(row)
}

func (s *Store) ToggleStar(ctx context.Context, id int64, ownerID string) (*store.Idea, error) {
	row := s.client.DB.QueryRowContext(ctx,
		`UPDATE ideas SET is_starred = NOT is_starred
		 WHERE id = $1 AND ($2::text = '' OR owner_id = $2)
		 RETURNING `+ideaColumns,
		id, ownerID,
	)
	return scanIdea(row)
}

func (s *Store) DeleteIdea(ctx context.Context, id int64, ownerID string) error {
	res, err := s.client.DB.ExecContext(ctx,
		`DELETE FROM ideas WHERE id = $1 AND ($2::text = '' OR owner_id = $2)`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting idea %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting idea %d: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Store) CommitGeneration(ctx context.Context, userID string, ideas []store.NewIdea, deduct bool) (*store.Commit, error) {
	commit := &store.Commit{}
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		var credits int
		var err error
		if deduct {
			err = tx.QueryRowContext(ctx,
				`UPDATE users SET idea_credits = idea_credits - 1
				 WHERE id = $1 AND idea_credits > 0
				 RETURNING idea_credits`, userID).Scan(&credits)
			if errors.Is(err, sql.ErrNoRows) {
				// distinguish a missing user from an empty balance
				var exists bool
				if qErr := tx.QueryRowContext(ctx,
					`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); qErr != nil {
					return fmt.Errorf("checking user %s: %w", userID, qErr)
				}
				if !exists {
					return apperrors.ErrNotFound
				}
				return apperrors.ErrInsufficientCredits
			}
		} else {
			err = tx.QueryRowContext(ctx, `SELECT idea_credits FROM users WHERE id = $1`, userID).Scan(&credits)
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.ErrNotFound
			}
		}
		if err != nil {
			return fmt.Errorf("updating credits for %s: %w", userID, err)
		}
		commit.CreditsRemaining = credits

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ideas (owner_id, name, problem, solution, source_url, result, generated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+ideaColumns)
		if err != nil {
			return fmt.Errorf("preparing idea insert: %w", err)
		}
		defer stmt.Close()

		now := s.now().UTC()
		for _, in := range ideas {
			idea, err := scanIdea(stmt.QueryRowContext(ctx,
				userID, in.Name, in.Problem, in.Solution, in.SourceURL, in.Result, now))
			if err != nil {
				return fmt.Errorf("inserting idea: %w", err)
			}
			commit.Ideas = append(commit.Ideas, *idea)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}
