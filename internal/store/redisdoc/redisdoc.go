// Package redisdoc implements store.Store as JSON documents in Redis.
//
// Layout under the client's key prefix:
//
//	user:{id}            hash {doc: JSON, credits: int}
//	user:email:{email}   -> user id
//	user:client:{id}     -> user id
//	user:{id}:ideas      zset of idea ids scored by id
//	idea:{id}            JSON
//	idea:seq             id counter
//	ideas                zset of every idea id
//
// Credits live in their own hash field so the check-and-decrement can run
// inside a Lua script together with the idea writes.
package redisdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	redisclient "github.com/propelai/propelai-backend/pkg/redis"
)

const maxWatchRetries = 5

var createUserScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if ARGV[3] ~= '' and redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
if ARGV[4] ~= '' and redis.call('EXISTS', KEYS[3]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'credits', ARGV[2])
if ARGV[3] ~= '' then redis.call('SET', KEYS[2], ARGV[3]) end
if ARGV[4] ~= '' then redis.call('SET', KEYS[3], ARGV[4]) end
return 1
`)

// commitScript returns the remaining credits, -1 when the balance is empty
// and -2 when the user does not exist.
var commitScript = redis.NewScript(`
local credits = redis.call('HGET', KEYS[1], 'credits')
if not credits then return -2 end
credits = tonumber(credits)
if ARGV[1] == '1' then
  if credits <= 0 then return -1 end
  credits = redis.call('HINCRBY', KEYS[1], 'credits', -1)
end
local n = tonumber(ARGV[2])
for i = 1, n do
  local id = ARGV[2 + i]
  redis.call('SET', KEYS[3 + i], ARGV[2 + n + i])
  redis.call('ZADD', KEYS[2], id, id)
  redis.call('ZADD', KEYS[3], id, id)
end
return credits
`)

// reader is the subset of commands shared by the client and a watched tx.
type reader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type Store struct {
	client *redisclient.Client
	rdb    *redis.Client
	now    func() time.Time
}

func New(client *redisclient.Client) *Store {
	return &Store{client: client, rdb: client.Redis(), now: time.Now}
}

func (s *Store) userKey(id string) string       { return s.client.Key("user", id) }
func (s *Store) emailKey(email string) string   { return s.client.Key("user", "email", email) }
func (s *Store) extKey(ext string) string       { return s.client.Key("user", "client", ext) }
func (s *Store) ownerIdeasKey(id string) string { return s.client.Key("user", id, "ideas") }
func (s *Store) allIdeasKey() string            { return s.client.Key("ideas") }
func (s *Store) ideaSeqKey() string             { return s.client.Key("idea", "seq") }
func (s *Store) ideaKey(id int64) string {
	return s.client.Key("idea", strconv.FormatInt(id, 10))
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
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding user %s: %w", u.ID, err)
	}

	var emailOwner, extOwner string
	if u.Email != "" {
		emailOwner = u.ID
	}
	if u.ExternalID != "" {
		extOwner = u.ID
	}
	created, err := createUserScript.Run(ctx, s.rdb,
		[]string{s.userKey(u.ID), s.emailKey(u.Email), s.extKey(u.ExternalID)},
		doc, u.Credits, emailOwner, extOwner,
	).Int()
	if err != nil {
		return fmt.Errorf("creating user %s: %w", u.ID, err)
	}
	if created == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (s *Store) loadUser(ctx context.Context, c reader, id string) (*store.User, error) {
	fields, err := c.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", id, err)
	}
	doc, ok := fields["doc"]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	var u store.User
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	credits, err := strconv.Atoi(fields["credits"])
	if err != nil {
		return nil, fmt.Errorf("decoding credits for %s: %w", id, err)
	}
	u.Credits = credits
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.loadUser(ctx, s.rdb, id)
}

func (s *Store) findBy(ctx context.Context, indexKey string) (*store.User, error) {
	id, err := s.client.Get(ctx, indexKey)
	if redisclient.IsNilError(err) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", indexKey, err)
	}
	return s.loadUser(ctx, s.rdb, id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findBy(ctx, s.emailKey(store.NormalizeEmail(email)))
}

func (s *Store) FindUserByExternalID(ctx context.Context, externalID string) (*store.User, error) {
	return s.findBy(ctx, s.extKey(externalID))
}

// watch runs fn in an optimistic transaction on keys, retrying when a
// concurrent writer invalidates the watch.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("optimistic transaction on %v: %w", keys, redis.TxFailedErr)
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	key := s.userKey(id)
	var out *store.User
	err := s.watch(ctx, func(tx *redis.Tx) error {
		u, err := s.loadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		store.ApplyUpdate(u, upd)
		doc, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encoding user %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "doc", doc)
			if upd.AddCredits != 0 {
				pipe.HIncrBy(ctx, key, "credits", int64(upd.AddCredits))
			}
			return nil
		})
		out = u
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadIdea(ctx context.Context, c reader, id int64) (*store.Idea, error) {
	data, err := c.Get(ctx, s.ideaKey(id)).Bytes()
	if redisclient.IsNilError(err) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading idea %d: %w", id, err)
	}
	var idea store.Idea
	if err := json.Unmarshal(data, &idea); err != nil {
		return nil, fmt.Errorf("decoding idea %d: %w", id, err)
	}
	return &idea, nil
}

func (s *Store) ListIdeas(ctx context.Context, ownerID string, limit int) ([]store.Idea, error) {
	index := s.allIdeasKey()
	if ownerID != "" {
		index = s.ownerIdeasKey(ownerID)
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rdb.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing ideas: %w", err)
	}
	out := make([]store.Idea, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.client.Key("idea", id)
	}
	docs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading ideas: %w", err)
	}
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			// removed between ZREVRANGE and MGET
			continue
		}
		var idea store.Idea
		if err := json.Unmarshal([]byte(raw), &idea); err != nil {
			return nil, fmt.Errorf("decoding idea %s: %w", ids[i], err)
		}
		out = append(out, idea)
	}
	return out, nil
}

func (s *Store) GetIdea(ctx context.Context, id int64) (*store.Idea, error) {
	return s.loadIdea(ctx, s.rdb, id)
}

func (s *Store) ToggleStar(ctx context.Context, id int64, ownerID string) (*store.Idea, error) {
	key := s.ideaKey(id)
	var out *store.Idea
	err := s.watch(ctx, func(tx *redis.Tx) error {
		idea, err := s.loadIdea(ctx, tx, id)
		if err != nil {
			return err
		}
		if ownerID != "" && idea.OwnerID != ownerID {
			return apperrors.ErrNotFound
		}
		idea.IsStarred = !idea.IsStarred
		doc, err := json.Marshal(idea)
		if err != nil {
			return fmt.Errorf("encoding idea %d: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		out = idea
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteIdea(ctx context.Context, id int64, ownerID string) error {
	key := s.ideaKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		idea, err := s.loadIdea(ctx, tx, id)
		if err != nil {
			return err
		}
		if ownerID != "" && idea.OwnerID != ownerID {
			return apperrors.ErrNotFound
		}
		member := strconv.FormatInt(id, 10)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.ownerIdeasKey(idea.OwnerID), member)
			pipe.ZRem(ctx, s.allIdeasKey(), member)
			return nil
		})
		return err
	}, key)
}

func (s *Store) CommitGeneration(ctx context.Context, userID string, ideas []store.NewIdea, deduct bool) (*store.Commit, error) {
	n := len(ideas)
	var first int64
	if n > 0 {
		last, err := s.rdb.IncrBy(ctx, s.ideaSeqKey(), int64(n)).Result()
		if err != nil {
			return nil, fmt.Errorf("allocating idea ids: %w", err)
		}
		first = last - int64(n) + 1
	}

	now := s.now().UTC()
	keys := []string{s.userKey(userID), s.ownerIdeasKey(userID), s.allIdeasKey()}
	args := []any{boolArg(deduct), n}
	docs := make([]any, 0, n)
	persisted := make([]store.Idea, 0, n)
	for i, in := range ideas {
		idea := store.Idea{
			ID:          first + int64(i),
			OwnerID:     userID,
			Name:        in.Name,
			Problem:     in.Problem,
			Solution:    in.Solution,
			SourceURL:   in.SourceURL,
			Result:      in.Result,
			GeneratedAt: now,
		}
		doc, err := json.Marshal(idea)
		if err != nil {
			return nil, fmt.Errorf("encoding idea: %w", err)
		}
		keys = append(keys, s.ideaKey(idea.ID))
		args = append(args, idea.ID)
		docs = append(docs, doc)
		persisted = append(persisted, idea)
	}
	args = append(args, docs...)

	remaining, err := commitScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("committing generation for %s: %w", userID, err)
	}
	switch remaining {
	case -2:
		return nil, apperrors.ErrNotFound
	case -1:
		return nil, apperrors.ErrInsufficientCredits
	}
	return &store.Commit{Ideas: persisted, CreditsRemaining: remaining}, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}
