package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisInvalidator publishes a cache-invalidation message on a pub/sub
// channel, the alternative to CloudFront for deployments that front Kinto
// with a Redis-backed cache (no equivalent in the original, which is
// CloudFront-only; this backend follows the same formatted-paths contract
// so hosts can swap invalidators without touching pkg/updater).
type RedisInvalidator struct {
	client  *redis.Client
	Channel string
	Paths   []string // may contain {bucket_id}/{collection_id}
	Logger  *slog.Logger
}

func NewRedisInvalidator(client *redis.Client, channel string, paths []string) *RedisInvalidator {
	if len(paths) == 0 {
		paths = []string{"/v1/*"}
	}
	return &RedisInvalidator{client: client, Channel: channel, Paths: paths}
}

// Invalidate implements pkg/updater.CacheInvalidator.
func (r *RedisInvalidator) Invalidate(ctx context.Context, bucket, collection string, timestamp int64) error {
	paths := formatPaths(r.Paths, bucket, collection)
	msg := fmt.Sprintf(`{"bucket":%q,"collection":%q,"timestamp":%d,"paths":%q}`, bucket, collection, timestamp, paths)

	if err := r.client.Publish(ctx, r.Channel, msg).Err(); err != nil {
		logInvalidationFailure(ctx, r.Logger, "redis", err)
		return nil
	}
	return nil
}
