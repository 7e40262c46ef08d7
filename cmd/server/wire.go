package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/adapter/storage"
	"github.com/rl1809/inventory-requests/internal/config"
	"github.com/rl1809/inventory-requests/internal/port"
)

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		store, err := storage.OpenMySQL(ctx, storage.MySQLOptions{
			DSN:          cfg.MySQLDSN,
			MaxOpenConns: cfg.MySQLMaxOpenConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMongo:
		store, err := storage.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		store, err := storage.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openGuard returns the Redis-backed guard and publisher when Redis is
// configured, and in-process replacements otherwise. The returned closer is
// never nil.
func openGuard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.RequestGuard, port.EventPublisher, func() error, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; using in-process guard, events go to the log")
		return storage.NewLocalGuard(), storage.NewLogPublisher(logger), func() error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	adapter := storage.NewRedisAdapter(rdb)
	return adapter, adapter, rdb.Close, nil
}
