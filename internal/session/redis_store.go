package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror creates a Redis-backed snapshot mirror. Keys expire after
// ttl so abandoned users disappear on their own.
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{
		client: client,
		prefix: "wa-session:",
		ttl:    ttl,
	}
}

func (r *RedisMirror) key(userID string) string {
	return r.prefix + userID
}

func (r *RedisMirror) Save(ctx context.Context, snap Snapshot) error {
	if snap.UserID == "" {
		return fmt.Errorf("session: missing user_id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(snap.UserID), data, r.ttl).Err()
}

func (r *RedisMirror) Delete(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
