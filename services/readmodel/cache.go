package readmodel

import (
	"context"
	"errors"
	"time"

	"loyalty-checkin/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

var errCacheMiss = errors.New("readmodel: cache miss")

// generationTTL bounds how long an idle invalidation counter is kept.
const generationTTL = 24 * time.Hour

// Cache stores serialized read models. Every key carries a generation that Del
// bumps, so a value computed before an invalidation is never stored after it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Generation(ctx context.Context, key string) (int64, error)
	// SetIfGeneration stores value only while the generation of key is gen.
	SetIfGeneration(ctx context.Context, key string, gen int64, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

type redisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	return b, err
}

func (c *redisCache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.rdb.Get(ctx, rediskey.BuildGenerationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *redisCache) SetIfGeneration(ctx context.Context, key string, gen int64, value []byte, ttl time.Duration) (bool, error) {
	stored, err := setIfGeneration.Run(ctx, c.rdb,
		[]string{key, rediskey.BuildGenerationKey(key)},
		gen, value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *redisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	for _, key := range keys {
		genKey := rediskey.BuildGenerationKey(key)
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
