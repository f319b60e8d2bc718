package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

const (
	idempotencyKeyTTL   = 24 * time.Hour
	NotificationChannel = "pharmacy.events"
)

// RedisAdapter holds idempotency keys and fans committed notifications out
// over pub/sub.
type RedisAdapter struct {
	client  *redis.Client
	channel string
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, channel: NotificationChannel}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) Publish(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	return r.client.Publish(ctx, r.channel, payload).Err()
}
