// Package cache keeps short-lived provider credentials in Redis so that
// every API replica shares one gateway access token.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "malricpharma:token:"

// RedisTokenCache stores gateway access tokens with a TTL.
type RedisTokenCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisTokenCache(client redis.Cmdable, prefix string) *RedisTokenCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisTokenCache{client: client, prefix: prefix}
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.prefix+key, token, ttl).Err()
}
