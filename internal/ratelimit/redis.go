package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const attemptsKeyTpl = "attempts:%s" // attempts:${id}

type RedisCounter struct {
	redis *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{redis: client}
}

// NewRedisClient parses url and pings the server before handing the client out.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *RedisCounter) Record(ctx context.Context, id string, window time.Duration) (int64, error) {
	key := fmt.Sprintf(attemptsKeyTpl, id)

	pipe := c.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Count(ctx context.Context, id string) (int64, error) {
	key := fmt.Sprintf(attemptsKeyTpl, id)

	n, err := c.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) TTL(ctx context.Context, id string) (time.Duration, error) {
	key := fmt.Sprintf(attemptsKeyTpl, id)

	ttl, err := c.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts ttl: %w", err)
	}
	// -2 (missing) and -1 (no expiry) come back as negative durations
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (c *RedisCounter) Clear(ctx context.Context, id string) error {
	key := fmt.Sprintf(attemptsKeyTpl, id)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}
	return nil
}

func (c *RedisCounter) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
