package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johan/oddsrelay/internal/types"
)

// RedisSnapshot persists the full event set under a single key so a
// restarted relay can serve catch-up snapshots before its first pull.
type RedisSnapshot struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

type snapshotRecord struct {
	SavedAt time.Time     `json:"savedAt"`
	Events  []types.Event `json:"events"`
}

// NewRedisSnapshot creates a snapshot cache on an existing client.
func NewRedisSnapshot(client *redis.Client, key string, ttl time.Duration) *RedisSnapshot {
	if key == "" {
		key = "oddsrelay:snapshot"
	}
	return &RedisSnapshot{client: client, key: key, ttl: ttl}
}

// Save writes the events, replacing any previous snapshot.
func (s *RedisSnapshot) Save(ctx context.Context, events []types.Event) error {
	data, err := json.Marshal(snapshotRecord{SavedAt: time.Now().UTC(), Events: events})
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Load returns the saved events, or nil if no snapshot exists.
func (s *RedisSnapshot) Load(ctx context.Context) ([]types.Event, time.Time, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading snapshot: %w", err)
	}

	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return rec.Events, rec.SavedAt, nil
}

// Close closes the underlying client.
func (s *RedisSnapshot) Close() error {
	return s.client.Close()
}
