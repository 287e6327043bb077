// Package cache is the optional redis adapter: broker message
// idempotency and read-API snapshot caching. When REDIS_ADDR is unset
// every operation is a no-op, and correctness never depends on it.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/core"
)

const (
	messageKeyPrefix  = "uw:msg:"
	snapshotKeyPrefix = "uw:snapshot:"

	snapshotTTL   = 5 * time.Minute
	minMessageTTL = 5 * time.Minute
)

// Client wraps the redis connection. The zero value is a disabled
// client; every method degrades to a cache miss.
type Client struct {
	rdb        *redis.Client
	messageTTL time.Duration
	logger     *slog.Logger
}

// New connects when the config enables redis, otherwise returns a
// disabled client. ackDeadline sizes the idempotency TTL: a message id
// must outlive at least two redelivery cycles.
func New(cfg config.RedisConfig, ackDeadline time.Duration) *Client {
	c := &Client{
		messageTTL: 2 * ackDeadline,
		logger:     slog.With("component", "cache"),
	}
	if c.messageTTL < minMessageTTL {
		c.messageTTL = minMessageTTL
	}
	if !cfg.Enabled() {
		c.logger.Info("redis disabled, cache is a no-op")
		return c
	}

	c.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c.logger.Info("redis cache enabled", "addr", cfg.Addr)
	return c
}

// Enabled reports whether a redis connection is configured.
func (c *Client) Enabled() bool { return c.rdb != nil }

// Ping verifies the connection for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Seen reports whether a broker message id was already processed.
// Errors degrade open: a redis outage must not drop messages.
func (c *Client) Seen(ctx context.Context, messageID string) bool {
	if c.rdb == nil {
		return false
	}
	n, err := c.rdb.Exists(ctx, messageKeyPrefix+messageID).Result()
	if err != nil {
		c.logger.Warn("idempotency lookup failed", "error", err)
		return false
	}
	return n > 0
}

// MarkDone records a processed broker message id.
func (c *Client) MarkDone(ctx context.Context, messageID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, messageKeyPrefix+messageID, "1", c.messageTTL).Err(); err != nil {
		c.logger.Warn("idempotency write failed", "error", err)
	}
}

// GetSnapshot returns a cached underwriting snapshot, if present.
func (c *Client) GetSnapshot(ctx context.Context, underwritingID string) (*core.Underwriting, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, snapshotKeyPrefix+underwritingID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("snapshot cache read failed", "error", err)
		}
		return nil, false
	}
	var uw core.Underwriting
	if err := json.Unmarshal(raw, &uw); err != nil {
		c.logger.Warn("snapshot cache entry corrupt", "error", err)
		return nil, false
	}
	return &uw, true
}

// SetSnapshot caches an underwriting snapshot.
func (c *Client) SetSnapshot(ctx context.Context, underwritingID string, uw *core.Underwriting) {
	if c.rdb == nil || uw == nil {
		return
	}
	raw, err := json.Marshal(uw)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, snapshotKeyPrefix+underwritingID, raw, snapshotTTL).Err(); err != nil {
		c.logger.Warn("snapshot cache write failed", "error", err)
	}
}

// InvalidateSnapshot drops the cached snapshot after a workflow
// changes the case.
func (c *Client) InvalidateSnapshot(ctx context.Context, underwritingID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, snapshotKeyPrefix+underwritingID).Err(); err != nil {
		c.logger.Warn("snapshot invalidation failed", "error", err)
	}
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
