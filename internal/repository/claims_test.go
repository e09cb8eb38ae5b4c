package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClaimGuard(t *testing.T) (*ClaimGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClaimGuard(rdb, 30*time.Second), mr
}

func TestClaimGuard_SecondClaimInFlight(t *testing.T) {
	guard, _ := newClaimGuard(t)
	ctx := context.Background()

	release, err := guard.Claim(ctx, "stripe:cs_1")
	require.NoError(t, err)

	_, err = guard.Claim(ctx, "stripe:cs_1")
	assert.ErrorIs(t, err, ErrInFlight)

	release()

	release2, err := guard.Claim(ctx, "stripe:cs_1")
	require.NoError(t, err)
	release2()
}

func TestClaimGuard_ReleaseKeepsForeignClaim(t *testing.T) {
	guard, mr := newClaimGuard(t)
	ctx := context.Background()

	release, err := guard.Claim(ctx, "razorpay:order_1")
	require.NoError(t, err)

	// The TTL ran out and another delivery took over.
	mr.FastForward(31 * time.Second)
	_, err = guard.Claim(ctx, "razorpay:order_1")
	require.NoError(t, err)

	release()
	assert.True(t, mr.Exists("claim:razorpay:order_1"))
}

func TestClaimGuard_Expires(t *testing.T) {
	guard, mr := newClaimGuard(t)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "calendly:inv_1")
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)

	assert.False(t, mr.Exists("claim:calendly:inv_1"))
}

type captureBus struct {
	topic string
	data  []byte
}

func (c *captureBus) Publish(topic string, data []byte) error {
	c.topic, c.data = topic, data
	return nil
}

func TestPublishEvent(t *testing.T) {
	bus := &captureBus{}
	require.NoError(t, PublishEvent(bus, "membership.activated", map[string]string{"user_id": "u1"}))
	assert.Equal(t, "membership.activated", bus.topic)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(bus.data))
}
