package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"station-navigation/internal/navigation"
)

// ErrNotFound is returned when no snapshot is stored for a client.
var ErrNotFound = errors.New("snapshot not found")

type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func (r *RedisSnapshotCache) SetSnapshot(ctx context.Context, clientID string, snapshot navigation.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}
	return r.client.Set(ctx, formatKey(clientID), data, r.ttl).Err()
}

func (r *RedisSnapshotCache) GetSnapshot(ctx context.Context, clientID string) (*navigation.Snapshot, error) {
	val, err := r.client.Get(ctx, formatKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	var snapshot navigation.Snapshot
	if err := json.Unmarshal(val, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *RedisSnapshotCache) DeleteSnapshot(ctx context.Context, clientID string) error {
	if err := r.client.Del(ctx, formatKey(clientID)).Err(); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

func formatKey(clientID string) string {
	return fmt.Sprintf("navigation:snapshot:%s", clientID)
}
