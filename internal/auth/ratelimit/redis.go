package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	pkgredis "github.com/propelai/propelai-backend/pkg/redis"
)

// Redis is a fixed-window limiter shared by every instance pointing at the
// same Redis. It fails open when Redis is unreachable.
type Redis struct {
	client *pkgredis.Client
	limit  int
	window time.Duration
	logger *slog.Logger
}

func NewRedis(client *pkgredis.Client, limit int, window time.Duration) *Redis {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		logger: slog.Default().With("component", "ratelimit-redis"),
	}
}

func (r *Redis) Allow(ctx context.Context, key string) bool {
	slot := time.Now().UnixNano() / int64(r.window)
	k := r.client.Key("ratelimit", key, strconv.FormatInt(slot, 10))

	pipe := r.client.Redis().TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return true
	}
	return incr.Val() <= int64(r.limit)
}
