package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"threadline/tools/errs"
)

// OpenPostgres parses the URL, dials the pool and pings once so a bad
// DSN fails at startup instead of on the first request.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse postgres url")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "open postgres pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping")
	}
	return pool, nil
}
