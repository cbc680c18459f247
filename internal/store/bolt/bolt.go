// Package bolt is an embedded document store backed by bbolt. Users and ideas
// are JSON documents; secondary lookups and per-owner history are kept in
// index buckets updated within the same transaction.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

var (
	bucketUsers      = []byte("users")
	bucketUsersEmail = []byte("users_by_email")
	bucketUsersExt   = []byte("users_by_client")
	bucketIdeas      = []byte("ideas")
	bucketOwnerIdeas = []byte("owner_ideas")
)

type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path and ensures every
// bucket exists.
func Open(cfg config.BoltConfig) (*Store, error) {
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database %s: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketUsersEmail, bucketUsersExt, bucketIdeas, bucketOwnerIdeas} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
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

	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		if users.Get([]byte(u.ID)) != nil {
			return apperrors.ErrConflict
		}
		if u.Email != "" {
			idx := tx.Bucket(bucketUsersEmail)
			if idx.Get([]byte(u.Email)) != nil {
				return apperrors.ErrConflict
			}
			if err := idx.Put([]byte(u.Email), []byte(u.ID)); err != nil {
				return err
			}
		}
		if u.ExternalID != "" {
			idx := tx.Bucket(bucketUsersExt)
			if idx.Get([]byte(u.ExternalID)) != nil {
				return apperrors.ErrConflict
			}
			if err := idx.Put([]byte(u.ExternalID), []byte(u.ID)); err != nil {
				return err
			}
		}
		return putUser(tx, u)
	})
}

func putUser(tx *bbolt.Tx, u *store.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding user %s: %w", u.ID, err)
	}
	return tx.Bucket(bucketUsers).Put([]byte(u.ID), data)
}

func getUser(tx *bbolt.Tx, id string) (*store.User, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return nil, apperrors.ErrNotFound
	}
	var u store.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	var u *store.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUser(tx, id)
		return err
	})
	return u, err
}

func (s *Store) findBy(bucket []byte, key string) (*store.User, error) {
	var u *store.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucket).Get([]byte(key))
		if id == nil {
			return apperrors.ErrNotFound
		}
		var err error
		u, err = getUser(tx, string(id))
		return err
	})
	return u, err
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*store.User, error) {
	return s.findBy(bucketUsersEmail, store.NormalizeEmail(email))
}

func (s *Store) FindUserByExternalID(_ context.Context, externalID string) (*store.User, error) {
	return s.findBy(bucketUsersExt, externalID)
}

func (s *Store) UpdateUser(_ context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	var u *store.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUser(tx, id)
		if err != nil {
			return err
		}
		store.ApplyUpdate(u, upd)
		return putUser(tx, u)
	})
	return u, err
}

func getIdea(tx *bbolt.Tx, id int64) (*store.Idea, error) {
	data := tx.Bucket(bucketIdeas).Get(itob(id))
	if data == nil {
		return nil, apperrors.ErrNotFound
	}
	var idea store.Idea
	if err := json.Unmarshal(data, &idea); err != nil {
		return nil, fmt.Errorf("decoding idea %d: %w", id, err)
	}
	return &idea, nil
}

func putIdea(tx *bbolt.Tx, idea *store.Idea) error {
	data, err := json.Marshal(idea)
	if err != nil {
		return fmt.Errorf("encoding idea %d: %w", idea.ID, err)
	}
	return tx.Bucket(bucketIdeas).Put(itob(idea.ID), data)
}

func (s *Store) ListIdeas(_ context.Context, ownerID string, limit int) ([]store.Idea, error) {
	out := make([]store.Idea, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var c *bbolt.Cursor
		if ownerID == "" {
			c = tx.Bucket(bucketIdeas).Cursor()
		} else {
			owned := tx.Bucket(bucketOwnerIdeas).Bucket([]byte(ownerID))
			if owned == nil {
				return nil
			}
			c = owned.Cursor()
		}
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			idea, err := getIdea(tx, btoi(k))
			if err != nil {
				return err
			}
			out = append(out, *idea)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) GetIdea(_ context.Context, id int64) (*store.Idea, error) {
	var idea *store.Idea
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		idea, err = getIdea(tx, id)
		return err
	})
	return idea, err
}

func ownedIdea(tx *bbolt.Tx, id int64, ownerID string) (*store.Idea, error) {
	idea, err := getIdea(tx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && idea.OwnerID != ownerID {
		return nil, apperrors.ErrNotFound
	}
	return idea, nil
}

func (s *Store) ToggleStar(_ context.Context, id int64, ownerID string) (*store.Idea, error) {
	var idea *store.Idea
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		idea, err = ownedIdea(tx, id, ownerID)
		if err != nil {
			return err
		}
		idea.IsStarred = !idea.IsStarred
		return putIdea(tx, idea)
	})
	return idea, err
}

func (s *Store) DeleteIdea(_ context.Context, id int64, ownerID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		idea, err := ownedIdea(tx, id, ownerID)
		if err != nil {
			return err
		}
		if owned := tx.Bucket(bucketOwnerIdeas).Bucket([]byte(idea.OwnerID)); owned != nil {
			if err := owned.Delete(itob(id)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketIdeas).Delete(itob(id))
	})
}

// CommitGeneration runs in one read-write transaction; bbolt allows a single
// writer at a time, so the credit check and decrement cannot interleave.
func (s *Store) CommitGeneration(_ context.Context, userID string, ideas []store.NewIdea, deduct bool) (*store.Commit, error) {
	commit := &store.Commit{}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		if deduct {
			if u.Credits <= 0 {
				return apperrors.ErrInsufficientCredits
			}
			u.Credits--
			if err := putUser(tx, u); err != nil {
				return err
			}
		}
		commit.CreditsRemaining = u.Credits

		owned, err := tx.Bucket(bucketOwnerIdeas).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("creating history bucket: %w", err)
		}
		bucket := tx.Bucket(bucketIdeas)
		now := s.now().UTC()
		for _, in := range ideas {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating idea id: %w", err)
			}
			idea := store.Idea{
				ID:          int64(seq),
				OwnerID:     userID,
				Name:        in.Name,
				Problem:     in.Problem,
				Solution:    in.Solution,
				SourceURL:   in.SourceURL,
				Result:      in.Result,
				GeneratedAt: now,
			}
			if err := putIdea(tx, &idea); err != nil {
				return err
			}
			if err := owned.Put(itob(idea.ID), nil); err != nil {
				return err
			}
			commit.Ideas = append(commit.Ideas, idea)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

func (s *Store) Ping(context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}
