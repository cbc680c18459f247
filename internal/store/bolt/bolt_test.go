package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/internal/store/storetest"
	"github.com/propelai/propelai-backend/pkg/config"
)

func openTemp(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(config.BoltConfig{Path: path, OpenTimeout: time.Second})
	require.NoError(t, err)
	return s
}

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := openTemp(t, filepath.Join(t.TempDir(), "propelai.db"))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "propelai.db")
	ctx := context.Background()

	s := openTemp(t, path)
	u := &store.User{Email: "reopen@example.com", Credits: 2}
	require.NoError(t, s.CreateUser(ctx, u))
	_, err := s.CommitGeneration(ctx, u.ID, []store.NewIdea{{Name: "n", Problem: "p", Solution: "s"}}, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTemp(t, path)
	defer s.Close()
	got, err := s.FindUserByEmail(ctx, "reopen@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Credits)

	ideas, err := s.ListIdeas(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, ideas, 1)
	assert.Equal(t, "n", ideas[0].Name)
}
