package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"voiceinsight/internal/core/domain"
)

// StatusCache is a best-effort cache in front of the status polling endpoint.
// Every operation degrades to a no-op when redis is unavailable; the store
// stays the source of truth.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewStatusCache(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*StatusCache, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &StatusCache{client: client, ttl: ttl, logger: logger}, nil
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}

func statusKey(callID string) string {
	return "call:status:" + callID
}

func (c *StatusCache) GetStatus(ctx context.Context, callID string) (domain.CallStatusSnapshot, bool) {
	raw, err := c.client.Get(ctx, statusKey(callID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("status cache read failed", "call_id", callID, "error", err)
		}
		return domain.CallStatusSnapshot{}, false
	}

	var snapshot domain.CallStatusSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.logger.Warn("status cache entry corrupt", "call_id", callID, "error", err)
		return domain.CallStatusSnapshot{}, false
	}
	return snapshot, true
}

func (c *StatusCache) SetStatus(ctx context.Context, snapshot domain.CallStatusSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("status cache marshal failed", "call_id", snapshot.CallID, "error", err)
		return
	}

	ttl := c.ttl
	if snapshot.Status.Terminal() {
		// Terminal states only change through delete or manual retry, both
		// of which invalidate; cache them longer.
		ttl = 10 * c.ttl
	}
	if err := c.client.Set(ctx, statusKey(snapshot.CallID), raw, ttl).Err(); err != nil {
		c.logger.Warn("status cache write failed", "call_id", snapshot.CallID, "error", err)
	}
}

func (c *StatusCache) Invalidate(ctx context.Context, callID string) {
	if err := c.client.Del(ctx, statusKey(callID)).Err(); err != nil {
		c.logger.Warn("status cache invalidate failed", "call_id", callID, "error", err)
	}
}
