package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/core"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.RedisConfig{Addr: mr.Addr()}, 10*time.Minute)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestClient_DisabledIsNoOp(t *testing.T) {
	c := New(config.RedisConfig{}, time.Minute)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.NoError(t, c.Ping(ctx))
	assert.False(t, c.Seen(ctx, "m-1"))
	c.MarkDone(ctx, "m-1")
	assert.False(t, c.Seen(ctx, "m-1"), "a disabled client never remembers anything")

	_, ok := c.GetSnapshot(ctx, "uw-1")
	assert.False(t, ok)
	c.SetSnapshot(ctx, "uw-1", &core.Underwriting{ID: "uw-1"})
	c.InvalidateSnapshot(ctx, "uw-1")
	assert.NoError(t, c.Close())
}

func TestClient_MessageIdempotency(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	assert.False(t, c.Seen(ctx, "m-1"))
	c.MarkDone(ctx, "m-1")
	assert.True(t, c.Seen(ctx, "m-1"))
	assert.False(t, c.Seen(ctx, "m-2"), "ids do not bleed into each other")

	// TTL covers two redelivery cycles of the 10m ack deadline.
	assert.Equal(t, 20*time.Minute, mr.TTL("uw:msg:m-1"))
}

func TestClient_MessageTTLFloor(t *testing.T) {
	mr := miniredis.RunT(t)

	short := New(config.RedisConfig{Addr: mr.Addr()}, time.Second)
	defer short.Close()
	short.MarkDone(context.Background(), "m-short")
	assert.Equal(t, 5*time.Minute, mr.TTL("uw:msg:m-short"),
		"tiny ack deadlines still get a usable idempotency window")
}

func TestClient_SnapshotRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	uw := &core.Underwriting{ID: "uw-1"}
	uw.Merchant.Name = "Test Merchant Inc"

	_, ok := c.GetSnapshot(ctx, "uw-1")
	require.False(t, ok)

	c.SetSnapshot(ctx, "uw-1", uw)
	got, ok := c.GetSnapshot(ctx, "uw-1")
	require.True(t, ok)
	assert.Equal(t, "Test Merchant Inc", got.Merchant.Name)
	assert.Equal(t, 5*time.Minute, mr.TTL("uw:snapshot:uw-1"))

	c.InvalidateSnapshot(ctx, "uw-1")
	_, ok = c.GetSnapshot(ctx, "uw-1")
	assert.False(t, ok)
}

func TestClient_CorruptSnapshotIsAMiss(t *testing.T) {
	c, mr := newTestClient(t)

	require.NoError(t, mr.Set("uw:snapshot:uw-1", "{not json"))
	_, ok := c.GetSnapshot(context.Background(), "uw-1")
	assert.False(t, ok)
}

func TestClient_DegradesOpenOnOutage(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	c.MarkDone(ctx, "m-1")
	mr.Close()

	assert.False(t, c.Seen(ctx, "m-1"), "an unreachable redis must not drop messages")
	_, ok := c.GetSnapshot(ctx, "uw-1")
	assert.False(t, ok)
	assert.Error(t, c.Ping(ctx))
}
