package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/notification"
)

func TestMemoryDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("first sighting is unseen", func(t *testing.T) {
		t.Parallel()

		d := notification.NewMemoryDedup(time.Hour)
		seen, err := d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)
		assert.False(t, seen)

		seen, err = d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		t.Parallel()

		d := notification.NewMemoryDedup(time.Hour)
		_, err := d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)

		seen, err := d.CheckAndMark(ctx, "tx-1:CANCEL")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("unmark releases the key", func(t *testing.T) {
		t.Parallel()

		d := notification.NewMemoryDedup(time.Hour)
		_, err := d.CheckAndMark(ctx, "tx-1:REFUND")
		require.NoError(t, err)

		require.NoError(t, d.Unmark(ctx, "tx-1:REFUND"))

		seen, err := d.CheckAndMark(ctx, "tx-1:REFUND")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestRedisDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	newDedup := func(t *testing.T, retention time.Duration) (*notification.RedisDedup, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return notification.NewRedisDedup(client, "test", retention), mr
	}

	t.Run("check and mark", func(t *testing.T) {
		t.Parallel()

		d, _ := newDedup(t, time.Hour)

		seen, err := d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)
		assert.False(t, seen)

		seen, err = d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("unmark releases the key", func(t *testing.T) {
		t.Parallel()

		d, _ := newDedup(t, time.Hour)
		_, err := d.CheckAndMark(ctx, "tx-1:REFUND")
		require.NoError(t, err)

		require.NoError(t, d.Unmark(ctx, "tx-1:REFUND"))

		seen, err := d.CheckAndMark(ctx, "tx-1:REFUND")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("retention expiry frees the key", func(t *testing.T) {
		t.Parallel()

		d, mr := newDedup(t, time.Minute)

		_, err := d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)

		seen, err := d.CheckAndMark(ctx, "tx-1:DID_RENEW")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}
