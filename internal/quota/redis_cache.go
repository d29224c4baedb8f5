package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-batcher/internal/model"
)

// CachedCounter keeps the provider count in Redis for a short TTL so a
// sweep over many campaigns of one owner does not hit the provider API
// for each of them. Redis failures fall through to the wrapped counter.
type CachedCounter struct {
	Inner  ProviderCounter
	Client *redis.Client
	TTL    time.Duration
}

func NewCachedCounter(inner ProviderCounter, client *redis.Client, ttl time.Duration) *CachedCounter {
	return &CachedCounter{Inner: inner, Client: client, TTL: ttl}
}

func cacheKey(owner string, since time.Time) string {
	return fmt.Sprintf("quota:provider:%s:%s", owner, since.UTC().Format("2006-01-02"))
}

func (c *CachedCounter) SentSince(ctx context.Context, cred *model.SenderCredential, since time.Time) (int, error) {
	key := cacheKey(cred.OwnerEmail, since)

	raw, err := c.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			return n, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("quota_cache_get_failed", "key", key, "error", err)
	}

	n, err := c.Inner.SentSince(ctx, cred, since)
	if err != nil {
		return 0, err
	}
	if err := c.Client.Set(ctx, key, n, c.TTL).Err(); err != nil {
		slog.Warn("quota_cache_set_failed", "key", key, "error", err)
	}
	return n, nil
}
