// Package bootstrap opens the storage backends selected by configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"murmur/internal/cache"
	"murmur/internal/config"
	"murmur/internal/database"
	"murmur/internal/observability"
	"murmur/internal/repository"
	"murmur/internal/repository/memstore"
	"murmur/internal/repository/mongostore"
	"murmur/internal/seed"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an in-memory store with a small demo dataset outside
	// production.
	SeedDemo bool
}

// Runtime holds the opened backends for one process. Exactly one of DB and
// Mongo is set for persistent drivers; both are nil for the memory driver.
type Runtime struct {
	Posts repository.PostRepository
	Users repository.UserRepository
	DB    *gorm.DB
	Mongo *mongo.Client
	Redis *redis.Client

	cfg *config.Config
}

// InitRuntime connects the configured store and Redis. Redis is optional:
// when it is configured and reachable, single-post lookups go through the
// cache-aside decorator.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	rt := &Runtime{cfg: cfg}

	switch cfg.DBDriver {
	case config.DriverPostgres, config.DriverSQLite:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.DB = db
		rt.Posts = repository.NewPostRepository(db)
		rt.Users = repository.NewUserRepository(db)

	case config.DriverMongo:
		client, db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongostore.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		rt.Mongo = client
		rt.Posts = mongostore.NewPostStore(db)
		rt.Users = mongostore.NewUserStore(db)

	case config.DriverMemory:
		rt.Posts = memstore.NewPostStore()
		rt.Users = memstore.NewUserStore()
		if opts.SeedDemo && !cfg.IsProduction() {
			res, err := seed.Seed(ctx, rt.Posts, rt.Users, seed.DemoOptions())
			if err != nil {
				return nil, fmt.Errorf("failed to seed demo data: %w", err)
			}
			observability.GlobalLogger.Info("in-memory store seeded",
				"users", len(res.Users), "posts", len(res.Posts), "likes", res.Likes)
		}

	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	cache.InitRedis(cfg.RedisURL)
	rt.Redis = cache.GetClient()
	if rt.Redis != nil && cfg.PostCacheTTL() > 0 {
		rt.Posts = repository.NewCachedPostRepository(rt.Posts, cfg.PostCacheTTL())
	}

	return rt, nil
}

// Ping checks every opened backend and reports each by name. Backends
// that are not in use are omitted.
func (rt *Runtime) Ping(ctx context.Context) map[string]error {
	checks := make(map[string]error)
	switch {
	case rt.DB != nil:
		checks["database"] = database.Ping(ctx, rt.DB, rt.cfg)
	case rt.Mongo != nil:
		checks["database"] = rt.Mongo.Ping(ctx, readpref.Primary())
	default:
		checks["database"] = nil
	}
	if rt.Redis != nil {
		checks["redis"] = rt.Redis.Ping(ctx).Err()
	}
	return checks
}

// Close releases every opened backend.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if rt.Mongo != nil {
		errs = append(errs, rt.Mongo.Disconnect(ctx))
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
		cache.SetClient(nil)
	}
	return errors.Join(errs...)
}
