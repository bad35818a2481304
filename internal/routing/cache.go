package routing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps route responses in redis.
type RedisCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps rc. A non-positive ttl defaults to one hour.
func NewRedisCache(rc *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rc: rc, ttl: ttl}
}

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte) {
	_ = c.rc.Set(ctx, key, val, c.ttl).Err()
}
