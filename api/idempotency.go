package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores seen Idempotency-Key values in Redis so every API
// instance rejects a replayed create.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the client may retry after a
// failed write.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

const oauthStateTTL = 10 * time.Minute

// RedisStateStore keeps pending OAuth state values with a short TTL.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore creates a state store. ttl <= 0 selects ten minutes.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = oauthStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func stateKey(state string) string { return "oauth-state:" + state }

// Save records state until it is consumed or expires.
func (s *RedisStateStore) Save(ctx context.Context, state string) error {
	return s.client.Set(ctx, stateKey(state), 1, s.ttl).Err()
}

// Consume deletes state and reports whether it was pending.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	n, err := s.client.Del(ctx, stateKey(state)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
