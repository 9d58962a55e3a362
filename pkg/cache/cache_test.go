package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPaths_SubstitutesPlaceholders(t *testing.T) {
	got := formatPaths([]string{"/v1/buckets/{bucket_id}/collections/{collection_id}/*", "/v1/static/*"}, "bid", "cid")
	assert.Equal(t, []string{
		"/v1/buckets/bid/collections/cid/*",
		"/v1/static/*",
	}, got)
}
