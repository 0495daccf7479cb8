package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cursorKeyTTL = 24 * time.Hour

// RedisCursorStore shares round robin counters between router instances.
type RedisCursorStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCursorStore(client redis.UniversalClient, prefix string) *RedisCursorStore {
	return &RedisCursorStore{client: client, prefix: prefix + "rr:"}
}

func (r *RedisCursorStore) Next(ctx context.Context, key string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cursor modulo must be positive")
	}
	fullKey := r.prefix + key
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, cursorKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int((incr.Val() - 1) % int64(n)), nil
}

func (r *RedisCursorStore) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *RedisCursorStore) ResetAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
