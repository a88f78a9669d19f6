//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsflow/internal/ratelimit/store/bucket"
	"opsflow/pkg/testutil/containers"
)

func TestRedisSlidingWindow(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.Flush(ctx))

	store := bucket.NewRedis(rc.Client, "opsflow:ratelimit:")
	key := "actor:it:write"

	for i := range 3 {
		res, err := store.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := store.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.ResetAt.After(time.Now()))

	ttl, err := rc.Client.PTTL(ctx, "opsflow:ratelimit:"+key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	require.NoError(t, store.Reset(ctx, key))
	res, err = store.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
