package health

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gateway:health:"

// RedisStore shares probe outcomes across gateway instances, so one
// instance's failed probe cools the model down for the whole fleet.
type RedisStore struct {
	client redis.UniversalClient
	expiry time.Duration
}

// NewRedisStore creates a redis-backed status store. Entries expire after
// expiry, which should comfortably exceed the monitor's TTL so stale
// entries are still visible as stale rather than silently vanishing.
func NewRedisStore(client redis.UniversalClient, expiry time.Duration) *RedisStore {
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &RedisStore{client: client, expiry: expiry}
}

// Get returns the shared status for a key.
func (s *RedisStore) Get(ctx context.Context, key string) (Status, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("redis get health: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, false, fmt.Errorf("decode health entry: %w", err)
	}
	return status, true, nil
}

// Set records a probe outcome with expiry.
func (s *RedisStore) Set(ctx context.Context, key string, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode health entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, s.expiry).Err(); err != nil {
		return fmt.Errorf("redis set health: %w", err)
	}
	return nil
}

// Snapshot scans all health entries.
func (s *RedisStore) Snapshot(ctx context.Context) (map[string]Status, error) {
	out := make(map[string]Status)

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		data, err := s.client.Get(ctx, fullKey).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get health: %w", err)
		}
		var status Status
		if err := json.Unmarshal(data, &status); err != nil {
			continue
		}
		out[fullKey[len(redisKeyPrefix):]] = status
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan health: %w", err)
	}
	return out, nil
}
