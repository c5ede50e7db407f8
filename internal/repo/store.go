// Package repo picks and builds the user store backend for the process.
package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/db"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/redisclient"
	"github.com/geocoder89/userhub/internal/repo/memory"
	"github.com/geocoder89/userhub/internal/repo/postgres"
	"github.com/geocoder89/userhub/internal/repo/redisrepo"
)

// Store is implemented by every backend.
type Store interface {
	Insert(ctx context.Context, u user.User) error
	ListAll(ctx context.Context) ([]user.User, error)
	FindByID(ctx context.Context, id string) (user.User, error)
	Replace(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error)
	Delete(ctx context.Context, id string) error
	ClaimSeed(ctx context.Context, name string) (bool, error)
	Ping(ctx context.Context) error
}

var (
	_ Store = (*memory.UsersRepo)(nil)
	_ Store = (*postgres.UsersRepo)(nil)
	_ Store = (*redisrepo.UsersRepo)(nil)
)

// Open builds the backend named by cfg.StoreDriver. For postgres the schema is
// migrated before Open returns. The returned close func releases connections.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, prom *observability.Prom) (Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.NewUsersRepo(), func() {}, nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}

		if err := db.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}

		return postgres.NewUsersRepo(pool, prom), pool.Close, nil

	case config.DriverRedis:
		client, err := redisclient.Connect(ctx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}

		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Error("redis close failed", "err", err)
			}
		}

		return redisrepo.NewUsersRepo(client.Raw(), "userhub:", prom), closeFn, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
