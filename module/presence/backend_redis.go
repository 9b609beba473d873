package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline/tools/errs"
)

// RedisBackend keeps the online flag in a TTL'd key and the last-seen
// timestamp in a companion key without TTL. Expiry of the online key is
// the implicit offline for clients that never said goodbye.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func onlineKey(user string) string { return "dm:presence:" + user }
func seenKey(user string) string   { return "dm:presence:seen:" + user }

func (b *RedisBackend) SetOnline(ctx context.Context, userID string, ttl time.Duration, nowMS int64) error {
	if err := b.rdb.Set(ctx, onlineKey(userID), nowMS, ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence set online", "user", userID)
	}
	return errs.Wrap(b.rdb.Set(ctx, seenKey(userID), nowMS, 0).Err())
}

func (b *RedisBackend) SetOffline(ctx context.Context, userID string, nowMS int64) error {
	if err := b.rdb.Del(ctx, onlineKey(userID)).Err(); err != nil {
		return errs.WrapMsg(err, "presence set offline", "user", userID)
	}
	return errs.Wrap(b.rdb.Set(ctx, seenKey(userID), nowMS, 0).Err())
}

func (b *RedisBackend) Lookup(ctx context.Context, userID string) (Record, error) {
	rec := Record{UserID: userID}
	val, err := b.rdb.Get(ctx, onlineKey(userID)).Result()
	switch {
	case err == nil:
		rec.Online = true
		rec.LastSeenMS, _ = strconv.ParseInt(val, 10, 64)
		return rec, nil
	case errors.Is(err, redis.Nil):
		// offline; fall through to last-seen
	default:
		return rec, errs.Wrap(err)
	}
	seen, err := b.rdb.Get(ctx, seenKey(userID)).Result()
	if err == nil {
		rec.LastSeenMS, _ = strconv.ParseInt(seen, 10, 64)
	} else if !errors.Is(err, redis.Nil) {
		return rec, errs.Wrap(err)
	}
	return rec, nil
}
