package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// livenessKeyPrefix namespaces the ephemeral markers.
const livenessKeyPrefix = "stream_active:"

// LivenessStore tracks which assistant messages have an actively streaming
// producer right now. Markers are ephemeral with a sliding TTL; existence is
// the signal. IsAlive is for recovery logic only, never the happy path.
type LivenessStore interface {
	Arm(ctx context.Context, messageID string) error
	Refresh(ctx context.Context, messageID string) error
	Clear(ctx context.Context, messageID string) error
	IsAlive(ctx context.Context, messageID string) (bool, error)
}

// RedisLiveness implements LivenessStore on redis.
type RedisLiveness struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLiveness(client *redis.Client, ttl time.Duration) *RedisLiveness {
	return &RedisLiveness{client: client, ttl: ttl}
}

func livenessKey(messageID string) string {
	return livenessKeyPrefix + messageID
}

// Arm sets the marker before the first byte of a stream is emitted.
func (r *RedisLiveness) Arm(ctx context.Context, messageID string) error {
	return r.client.Set(ctx, livenessKey(messageID), "1", r.ttl).Err()
}

// Refresh slides the TTL window. Called per delta chunk and per keepalive.
func (r *RedisLiveness) Refresh(ctx context.Context, messageID string) error {
	return r.client.Set(ctx, livenessKey(messageID), "1", r.ttl).Err()
}

// Clear removes the marker. Called unconditionally in terminal cleanup,
// including on cancellation.
func (r *RedisLiveness) Clear(ctx context.Context, messageID string) error {
	return r.client.Del(ctx, livenessKey(messageID)).Err()
}

// IsAlive is a point-in-time existence check.
func (r *RedisLiveness) IsAlive(ctx context.Context, messageID string) (bool, error) {
	n, err := r.client.Exists(ctx, livenessKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
