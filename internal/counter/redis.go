package counter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter — разделяемое TTL-хранилище счётчиков поверх Redis.
// Обязательно при горизонтальном масштабировании сервиса.
type RedisCounter struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCounter создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:lock:".
func NewRedisCounter(redisURL, prefix string) (*RedisCounter, error) {
	if prefix == "" {
		prefix = "auth:lock:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &RedisCounter{rdb: rdb, prefix: prefix}, nil
}

func (c *RedisCounter) key(k string) string { return c.prefix + k }

// Incr — INCR + EXPIRE NX в одной транзакции: окно открывает только первое
// увеличение, остальные его не продлевают.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := c.key(key)

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	ttl := pipe.TTL(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	return incr.Val(), ttl.Val(), nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	k := c.key(key)

	val, err := c.rdb.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}

		return 0, 0, err
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, 0, err
	}

	ttl, err := c.rdb.TTL(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}

	return n, ttl, nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}

func (c *RedisCounter) Close() error { return c.rdb.Close() }

// Проверка на соответствие интерфейсу Counter.
var _ Counter = (*RedisCounter)(nil)
