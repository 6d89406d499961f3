package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements idempotency.Backend over go-redis. Grounded on the
// teacher's RedisStore generic Set/Get pair — the only part of its Redis
// store that transfers, since the rest (distributed locks, leases, agent
// state) has no referent once cross-node clustering is out of scope.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to addr/db and verifies reachability.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

// Close releases the underlying connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return b.client.Set(ctx, "idempotency:"+key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, "idempotency:"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
