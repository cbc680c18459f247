// Package memory is an in-process store.Store used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

type Store struct {
	mu      sync.Mutex
	users   map[string]*store.User
	byEmail map[string]string
	byExt   map[string]string
	ideas   map[int64]*store.Idea
	nextID  int64
	now     func() time.Time
}

func New() *Store {
	return &Store{
		users:   make(map[string]*store.User),
		byEmail: make(map[string]string),
		byExt:   make(map[string]string),
		ideas:   make(map[int64]*store.Idea),
		now:     time.Now,
	}
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = store.NormalizeEmail(u.Email)
	if u.Email != "" {
		if _, ok := s.byEmail[u.Email]; ok {
			return apperrors.ErrConflict
		}
	}
	if u.ExternalID != "" {
		if _, ok := s.byExt[u.ExternalID]; ok {
			return apperrors.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, ok := s.users[u.ID]; ok {
		return apperrors.ErrConflict
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	if u.Tier == "" {
		u.Tier = store.TierFree
	}

	cp := *u
	s.users[u.ID] = &cp
	if u.Email != "" {
		s.byEmail[u.Email] = u.ID
	}
	if u.ExternalID != "" {
		s.byExt[u.ExternalID] = u.ID
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLocked(id)
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[store.NormalizeEmail(email)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.userLocked(id)
}

func (s *Store) FindUserByExternalID(_ context.Context, externalID string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExt[externalID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.userLocked(id)
}

func (s *Store) UpdateUser(_ context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	store.ApplyUpdate(u, upd)
	cp := *u
	return &cp, nil
}

func (s *Store) userLocked(id string) (*store.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListIdeas(_ context.Context, ownerID string, limit int) ([]store.Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Idea, 0)
	for _, idea := range s.ideas {
		if ownerID == "" || idea.OwnerID == ownerID {
			out = append(out, *idea)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetIdea(_ context.Context, id int64) (*store.Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.ideas[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *idea
	return &cp, nil
}

func (s *Store) ToggleStar(_ context.Context, id int64, ownerID string) (*store.Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.ideas[id]
	if !ok || (ownerID != "" && idea.OwnerID != ownerID) {
		return nil, apperrors.ErrNotFound
	}
	idea.IsStarred = !idea.IsStarred
	cp := *idea
	return &cp, nil
}

func (s *Store) DeleteIdea(_ context.Context, id int64, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.ideas[id]
	if !ok || (ownerID != "" && idea.OwnerID != ownerID) {
		return apperrors.ErrNotFound
	}
	delete(s.ideas, id)
	return nil
}

func (s *Store) CommitGeneration(_ context.Context, userID string, ideas []store.NewIdea, deduct bool) (*store.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if deduct {
		if u.Credits <= 0 {
			return nil, apperrors.ErrInsufficientCredits
		}
		u.Credits--
	}

	now := s.now().UTC()
	commit := &store.Commit{CreditsRemaining: u.Credits}
	for _, in := range ideas {
		s.nextID++
		idea := &store.Idea{
			ID:          s.nextID,
			OwnerID:     userID,
			Name:        in.Name,
			Problem:     in.Problem,
			Solution:    in.Solution,
			SourceURL:   in.SourceURL,
			Result:      in.Result,
			GeneratedAt: now,
		}
		s.ideas[idea.ID] = idea
		commit.Ideas = append(commit.Ideas, *idea)
	}
	return commit, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
