package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batcher/internal/model"
	"github.com/unclebandit/campaign-batcher/internal/quota"
)

func TestCachedCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	inner := &stubProvider{n: 42}
	c := quota.NewCachedCounter(inner, client, time.Minute)
	cred := &model.SenderCredential{OwnerEmail: "o@x.io"}
	since := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	n, err := c.SentSince(ctx, cred, since)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	inner.n = 99
	n, err = c.SentSince(ctx, cred, since)
	require.NoError(t, err)
	assert.Equal(t, 42, n, "served from cache")
	assert.Equal(t, 1, inner.calls)

	mr.FastForward(2 * time.Minute)
	n, err = c.SentSince(ctx, cred, since)
	require.NoError(t, err)
	assert.Equal(t, 99, n)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedCounterSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	c := quota.NewCachedCounter(&stubProvider{n: 7}, client, time.Minute)
	n, err := c.SentSince(context.Background(), &model.SenderCredential{OwnerEmail: "o@x.io"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
