// Package storage holds connection constructors for the backing
// stores. Everything returns a live, pinged handle; callers own the
// lifecycle.
package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline/tools/errs"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// OpenRedis dials and pings. No package-level state; callers hold the
// client and close it on shutdown.
func OpenRedis(c RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}
