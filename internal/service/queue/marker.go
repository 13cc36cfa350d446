package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/redis/go-redis/v9"
)

// CaptureMarker deduplicates captures per owning entity and event type.
type CaptureMarker interface {
	AlreadyQueued(ctx context.Context, ownerID int64, eventType model.EventType) (bool, error)
	MarkQueued(ctx context.Context, ownerID int64, eventType model.EventType) error
}

// RedisMarker keeps capture markers in Redis with a retention-aligned TTL.
type RedisMarker struct {
	rds *redis.Client
	ttl time.Duration
}

func NewRedisMarker(rds *redis.Client, ttl time.Duration) *RedisMarker {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisMarker{rds: rds, ttl: ttl}
}

var _ CaptureMarker = (*RedisMarker)(nil)

func captureKey(ownerID int64, eventType model.EventType) string {
	return fmt.Sprintf("capture:%d:%s", ownerID, eventType)
}

func (m *RedisMarker) AlreadyQueued(ctx context.Context, ownerID int64, eventType model.EventType) (bool, error) {
	n, err := m.rds.Exists(ctx, captureKey(ownerID, eventType)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *RedisMarker) MarkQueued(ctx context.Context, ownerID int64, eventType model.EventType) error {
	return m.rds.Set(ctx, captureKey(ownerID, eventType), "1", m.ttl).Err()
}

// NopMarker disables capture deduplication.
type NopMarker struct{}

func (NopMarker) AlreadyQueued(context.Context, int64, model.EventType) (bool, error) {
	return false, nil
}

func (NopMarker) MarkQueued(context.Context, int64, model.EventType) error { return nil }
