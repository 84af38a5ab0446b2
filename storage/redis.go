package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "voicechat:"

// Redis is a Backend keeping one hash per collection. The byte budget is
// tracked in a counter key; concurrent writers may overshoot it slightly.
type Redis struct {
	rdb        *redis.Client
	quotaBytes int64
}

func NewRedis(ctx context.Context, addr, password string, db int, quotaBytes int64) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, quotaBytes: quotaBytes}, nil
}

func (r *Redis) hashKey(collection string) string { return redisKeyPrefix + collection }

func (r *Redis) sizeKey() string { return redisKeyPrefix + "bytes" }

func (r *Redis) Put(ctx context.Context, collection, key string, value []byte) error {
	old, err := r.rdb.HStrLen(ctx, r.hashKey(collection), key).Result()
	if err != nil {
		return fmt.Errorf("redis hstrlen %s/%s: %w", collection, key, err)
	}
	delta := int64(len(value)) - old

	if r.quotaBytes > 0 && delta > 0 {
		used, err := r.used(ctx)
		if err != nil {
			return err
		}
		if used+delta > r.quotaBytes {
			return fmt.Errorf("write %s/%s of %d bytes: %w", collection, key, len(value), chat.ErrStorageQuota)
		}
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey(collection), key, value)
		pipe.IncrBy(ctx, r.sizeKey(), delta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write %s/%s: %w", collection, key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, collection, key string) ([]byte, error) {
	v, err := r.rdb.HGet(ctx, r.hashKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, chat.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis read %s/%s: %w", collection, key, err)
	}
	return v, nil
}

func (r *Redis) Delete(ctx context.Context, collection, key string) error {
	old, err := r.rdb.HStrLen(ctx, r.hashKey(collection), key).Result()
	if err != nil {
		return fmt.Errorf("redis hstrlen %s/%s: %w", collection, key, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.hashKey(collection), key)
		if old > 0 {
			pipe.DecrBy(ctx, r.sizeKey(), old)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, collection string) ([]string, error) {
	keys, err := r.rdb.HKeys(ctx, r.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys %s: %w", collection, err)
	}
	return keys, nil
}

func (r *Redis) used(ctx context.Context) (int64, error) {
	v, err := r.rdb.Get(ctx, r.sizeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis size: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis size %q: %w", v, err)
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
