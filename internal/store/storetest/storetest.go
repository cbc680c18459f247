// Package storetest holds the behavioural suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

// Factory returns an empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndLookupUsers", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("DuplicateUsersConflict", func(t *testing.T) { testConflicts(t, newStore(t)) })
	t.Run("UpdateUser", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("CommitDeductsOneCredit", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("CommitWithoutCreditsWritesNothing", func(t *testing.T) { testCommitRefused(t, newStore(t)) })
	t.Run("CommitIsAtomicUnderConcurrency", func(t *testing.T) { testConcurrentCommit(t, newStore(t)) })
	t.Run("HistoryNewestFirst", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("ToggleStarAndDelete", func(t *testing.T) { testStarDelete(t, newStore(t)) })
}

func newUser(t *testing.T, s store.Store, credits int, tier store.Tier) *store.User {
	t.Helper()
	u := &store.User{Tier: tier, Credits: credits, IsActive: true}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.NotEmpty(t, u.ID)
	return u
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := &store.User{
		Email:      "  Founder@Example.COM ",
		ExternalID: "ext-client-1",
		FullName:   "Ada Founder",
		Credits:    5,
		IsActive:   true,
	}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "founder@example.com", got.Email)
	assert.Equal(t, store.TierFree, got.Tier)
	assert.Equal(t, 5, got.Credits)
	assert.Equal(t, "Ada Founder", got.FullName)

	byEmail, err := s.FindUserByEmail(ctx, "FOUNDER@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byExt, err := s.FindUserByExternalID(ctx, "ext-client-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byExt.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.FindUserByExternalID(ctx, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func testConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &store.User{Email: "a@example.com", ExternalID: "c1"}))

	err := s.CreateUser(ctx, &store.User{Email: "A@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	err = s.CreateUser(ctx, &store.User{ExternalID: "c1"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// users without email or client id never collide
	require.NoError(t, s.CreateUser(ctx, &store.User{}))
	require.NoError(t, s.CreateUser(ctx, &store.User{}))
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, 3, store.TierFree)

	pro := store.TierPro
	login := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := s.UpdateUser(ctx, u.ID, store.UserUpdate{Tier: &pro, AddCredits: 7, LastLogin: &login})
	require.NoError(t, err)
	assert.Equal(t, store.TierPro, got.Tier)
	assert.Equal(t, 10, got.Credits)
	require.NotNil(t, got.LastLogin)
	assert.True(t, login.Equal(*got.LastLogin))

	reloaded, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.Credits)
	assert.Equal(t, store.TierPro, reloaded.Tier)

	_, err = s.UpdateUser(ctx, "missing", store.UserUpdate{AddCredits: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func sampleIdeas(n int) []store.NewIdea {
	out := make([]store.NewIdea, n)
	for i := range out {
		out[i] = store.NewIdea{
			Name:      "Idea",
			Problem:   "Problem",
			Solution:  "Solution",
			SourceURL: "https://example.com/article",
			Result:    "Idea result",
		}
	}
	return out
}

func testCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, 3, store.TierFree)

	commit, err := s.CommitGeneration(ctx, u.ID, sampleIdeas(3), true)
	require.NoError(t, err)
	assert.Equal(t, 2, commit.CreditsRemaining)
	require.Len(t, commit.Ideas, 3)
	for _, idea := range commit.Ideas {
		assert.NotZero(t, idea.ID)
		assert.Equal(t, u.ID, idea.OwnerID)
		assert.Equal(t, "https://example.com/article", idea.SourceURL)
		assert.False(t, idea.IsStarred)
	}

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Credits)

	// unmetered commits leave credits untouched
	commit, err = s.CommitGeneration(ctx, u.ID, sampleIdeas(1), false)
	require.NoError(t, err)
	assert.Equal(t, 2, commit.CreditsRemaining)

	_, err = s.CommitGeneration(ctx, "missing", sampleIdeas(1), true)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func testCommitRefused(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, 0, store.TierFree)

	_, err := s.CommitGeneration(ctx, u.ID, sampleIdeas(3), true)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)

	ideas, err := s.ListIdeas(ctx, u.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, ideas)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Credits)
}

func testConcurrentCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, 3, store.TierFree)

	var ok, refused atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitGeneration(ctx, u.ID, sampleIdeas(1), true)
			switch {
			case err == nil:
				ok.Add(1)
			case apperrors.HTTPStatusCode(err) == 403:
				refused.Add(1)
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(7), refused.Load())

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Credits)

	ideas, err := s.ListIdeas(ctx, u.ID, 0)
	require.NoError(t, err)
	assert.Len(t, ideas, 3)
}

func testHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newUser(t, s, 10, store.TierFree)
	b := newUser(t, s, 10, store.TierFree)

	first, err := s.CommitGeneration(ctx, a.ID, sampleIdeas(2), true)
	require.NoError(t, err)
	_, err = s.CommitGeneration(ctx, b.ID, sampleIdeas(1), true)
	require.NoError(t, err)
	second, err := s.CommitGeneration(ctx, a.ID, sampleIdeas(1), true)
	require.NoError(t, err)

	ideas, err := s.ListIdeas(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, ideas, 3)
	assert.Equal(t, second.Ideas[0].ID, ideas[0].ID)
	assert.Equal(t, first.Ideas[1].ID, ideas[1].ID)
	assert.Equal(t, first.Ideas[0].ID, ideas[2].ID)

	limited, err := s.ListIdeas(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	got, err := s.GetIdea(ctx, first.Ideas[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Idea result", got.Result)

	_, err = s.GetIdea(ctx, 999999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func testStarDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := newUser(t, s, 5, store.TierPro)
	other := newUser(t, s, 5, store.TierPro)

	commit, err := s.CommitGeneration(ctx, owner.ID, sampleIdeas(1), false)
	require.NoError(t, err)
	id := commit.Ideas[0].ID

	starred, err := s.ToggleStar(ctx, id, owner.ID)
	require.NoError(t, err)
	assert.True(t, starred.IsStarred)

	unstarred, err := s.ToggleStar(ctx, id, owner.ID)
	require.NoError(t, err)
	assert.False(t, unstarred.IsStarred)

	_, err = s.ToggleStar(ctx, id, other.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteIdea(ctx, id, other.ID), apperrors.ErrNotFound)

	require.NoError(t, s.DeleteIdea(ctx, id, owner.ID))
	_, err = s.GetIdea(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteIdea(ctx, id, owner.ID), apperrors.ErrNotFound)

	ideas, err := s.ListIdeas(ctx, owner.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, ideas)
}
