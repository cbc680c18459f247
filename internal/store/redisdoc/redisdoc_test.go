package redisdoc

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/internal/store/storetest"
	"github.com/propelai/propelai-backend/pkg/config"
	redisclient "github.com/propelai/propelai-backend/pkg/redis"
)

// skipIfNoRedis skips the test when Redis is unavailable. Each call gets its
// own key prefix, removed on cleanup.
func skipIfNoRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := "propelai-test-" + uuid.NewString()
	c, err := redisclient.NewClient(config.RedisConfig{Addr: addr, PoolSize: 10, KeyPrefix: prefix})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		c.FlushByPattern(context.Background(), prefix+":*")
		c.Close()
	})
	return c
}

func TestRedisDocumentStore(t *testing.T) {
	skipIfNoRedis(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return New(skipIfNoRedis(t))
	})
}
