package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which events a subscription has already processed.
type Deduper interface {
	Seen(ctx context.Context, scope, eventID string) (bool, error)
	Mark(ctx context.Context, scope, eventID string) error
}

// RedisDeduper stores processed event ids as expiring Redis keys.
type RedisDeduper struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

// NewRedisDeduper connects to the Redis server at addr.
func NewRedisDeduper(addr, serviceName string, ttl time.Duration) *RedisDeduper {
	return NewRedisDeduperWithClient(redis.NewClient(&redis.Options{Addr: addr}), serviceName, ttl)
}

func NewRedisDeduperWithClient(client *redis.Client, serviceName string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, serviceName: serviceName, ttl: ttl}
}

func (r *RedisDeduper) Seen(ctx context.Context, scope, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(scope, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return n > 0, nil
}

func (r *RedisDeduper) Mark(ctx context.Context, scope, eventID string) error {
	if err := r.client.Set(ctx, r.key(scope, eventID), time.Now().UTC().Format(time.RFC3339), r.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe mark: %w", err)
	}
	return nil
}

func (r *RedisDeduper) Close() error {
	return r.client.Close()
}

func (r *RedisDeduper) key(scope, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, scope, eventID)
}
