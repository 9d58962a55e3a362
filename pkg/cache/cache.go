// Package cache implements the two cache-invalidation backends named in
// §6's "cache hook" settings (`distribution_id`/`invalidation_paths`), both
// satisfying pkg/updater.CacheInvalidator.
//
// Grounded on updater.py's invalidate_cloudfront_cache: placeholder
// formatting of invalidation_paths with the destination bucket/collection,
// a CallerReference combining the timestamp and a random UUID, and
// swallow-and-log failure handling (§7: cache invalidation is best-effort,
// never fails the signing transaction).
package cache

import (
	"context"
	"log/slog"
	"strings"
)

// formatPaths substitutes {bucket_id}/{collection_id} into each path
// template, matching updater.py's str.format(bucket_id=..., collection_id=...).
func formatPaths(paths []string, bucket, collection string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.NewReplacer("{bucket_id}", bucket, "{collection_id}", collection).Replace(p)
	}
	return out
}

func logInvalidationFailure(ctx context.Context, logger *slog.Logger, backend string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "cache invalidation request failed", "backend", backend, "error", err)
}
