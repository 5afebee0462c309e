package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps event IDs in Redis so they survive process restarts.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store. Keys are "<prefix><event_id>".
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if prefix == "" {
		prefix = "purchase-agent:event:"
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

// Accept uses SET NX so concurrent deliveries race on a single key.
func (s *RedisStore) Accept(ctx context.Context, eventID string) error {
	ok, err := s.client.SetNX(ctx, s.prefix+eventID, time.Now().Unix(), s.retention).Result()
	if err != nil {
		return fmt.Errorf("dedup: redis setnx: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Forget deletes the event's key.
func (s *RedisStore) Forget(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("dedup: redis del: %w", err)
	}
	return nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep() int { return 0 }
