package store

import (
	"context"
	"fmt"

	"directchat/internal/config"
	"directchat/internal/db"
)

// Open builds the Store selected by cfg.StoreDriver, wrapped with the redis
// presence mirror when REDIS_ADDR is set.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	var s Store
	switch cfg.StoreDriver {
	case config.DriverPostgres, config.DriverSQLite:
		gdb, err := db.Connect(cfg.StoreDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(gdb); err != nil {
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		s = NewGorm(gdb)
	case config.DriverMongo:
		m, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		s = m
	case config.DriverMemory:
		s = NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisAddr == "" {
		return s, nil
	}
	rdb, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return NewRedisPresence(s, rdb), nil
}
