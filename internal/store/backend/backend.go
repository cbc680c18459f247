// Package backend opens the store.Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/propelai/propelai-backend/internal/store"
	boltstore "github.com/propelai/propelai-backend/internal/store/bolt"
	"github.com/propelai/propelai-backend/internal/store/memory"
	pgstore "github.com/propelai/propelai-backend/internal/store/postgres"
	"github.com/propelai/propelai-backend/internal/store/redisdoc"
	"github.com/propelai/propelai-backend/pkg/config"
	"github.com/propelai/propelai-backend/pkg/postgres"
	pkgredis "github.com/propelai/propelai-backend/pkg/redis"
)

// Open connects to cfg.Store.Backend and prepares its schema. The
// relational schema is applied on every open; it is idempotent.
//
// rdb is used for the redis backend and may be nil, in which case a client
// is created from cfg.Redis. The returned store owns rdb either way.
func Open(ctx context.Context, cfg *config.Config, rdb *pkgredis.Client) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		st := pgstore.New(db)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrating postgres: %w", err)
		}
		slog.Info("connected to postgres")
		return st, nil
	case config.BackendRedis:
		if rdb == nil {
			c, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				return nil, fmt.Errorf("connecting to redis: %w", err)
			}
			rdb = c
		}
		slog.Info("using redis document store", "addr", cfg.Redis.Addr)
		return redisdoc.New(rdb), nil
	case config.BackendBolt:
		st, err := boltstore.Open(cfg.Bolt)
		if err != nil {
			return nil, fmt.Errorf("opening bolt: %w", err)
		}
		slog.Info("opened bolt store", "path", cfg.Bolt.Path)
		return st, nil
	case config.BackendMemory, "":
		slog.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
