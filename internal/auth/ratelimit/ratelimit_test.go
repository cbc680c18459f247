package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/propelai/propelai-backend/pkg/config"
	pkgredis "github.com/propelai/propelai-backend/pkg/redis"
)

func TestBucketExhaustsAndRefills(t *testing.T) {
	b := New(2, time.Minute)
	defer b.Close()
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	ctx := context.Background()
	assert.True(t, b.Allow(ctx, "u1"))
	assert.True(t, b.Allow(ctx, "u1"))
	assert.False(t, b.Allow(ctx, "u1"))
	assert.True(t, b.Allow(ctx, "u2"), "keys are independent")

	now = now.Add(30 * time.Second)
	assert.True(t, b.Allow(ctx, "u1"))
	assert.False(t, b.Allow(ctx, "u1"))

	b.Reset("u1")
	assert.True(t, b.Allow(ctx, "u1"))
}

func TestBucketCloseIsIdempotent(t *testing.T) {
	b := New(1, time.Second)
	b.Close()
	b.Close()
}

var _ Limiter = (*Bucket)(nil)
var _ Limiter = (*Redis)(nil)

func TestRedisFixedWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := "propelai-test-" + uuid.NewString()
	c, err := pkgredis.NewClient(config.RedisConfig{Addr: addr, PoolSize: 2, KeyPrefix: prefix})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		c.FlushByPattern(context.Background(), prefix+":*")
		c.Close()
	})

	r := NewRedis(c, 2, time.Hour)
	ctx := context.Background()
	assert.True(t, r.Allow(ctx, "u1"))
	assert.True(t, r.Allow(ctx, "u1"))
	assert.False(t, r.Allow(ctx, "u1"))
	assert.True(t, r.Allow(ctx, "u2"))
}
